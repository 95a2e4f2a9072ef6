package lib

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_issued",
		Help: "The total number of challenges issued",
	})

	challengesSolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_solved",
		Help: "The total number of challenges answered correctly",
	})

	challengesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_expired",
		Help: "The total number of challenges that expired unanswered",
	})

	answersIncorrect = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_answers_incorrect",
		Help: "The total number of incorrect answers submitted",
	})

	grantFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_grant_failures",
		Help: "The total number of role grants that failed after a correct answer",
	})

	presentationAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_presentation_aborts",
		Help: "The total number of presentation retries abandoned by the stop predicate",
	})

	presentationExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_presentation_exhaustions",
		Help: "The total number of presentations that exhausted their retries",
	})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_audit_failures",
		Help: "The total number of audit log appends that failed after a grant",
	})
)


