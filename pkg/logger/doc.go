// Package logger builds configured log/slog loggers.
//
// It provides a small factory over slog's JSON and text handlers with
// functional options for level, output, format and static attributes, plus
// attribute helpers shared across the queue components:
//
//	log := logger.New(
//	    logger.WithService("workqueue"),
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithFormat(logger.FormatText),
//	)
//	log.Error("claim failed", logger.Error(err), logger.JobType("email_send"))
package logger
