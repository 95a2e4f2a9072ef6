package internal

import (
	"fmt"
	"log/slog"
	"os"
)

func InitSlog(level string) {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	leveler := &slog.LevelVar{}
	leveler.Set(programLevel)

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     leveler,
	})
	slog.SetDefault(slog.New(h))
}

// GetFlowLogger returns a logger carrying the identity of one verification
// flow. Every log line the engine emits about a principal goes through this.
func GetFlowLogger(principalID, guildID string) *slog.Logger {
	return slog.With(
		"principal_id", principalID,
		"guild_id", guildID,
	)
}


