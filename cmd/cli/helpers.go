package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// dimLogger is a quiet logger for CLI-internal clients; pipeline logging
// itself goes through the configured application logger.
func dimLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// internalRepoIDForCLI derives the same stable repository UUID the review
// job uses, so CLI and webhook runs share run history.
func internalRepoIDForCLI(owner, repo string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/"+owner+"/"+repo)).String()
}
