package cli

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shopadmin/pkg/observability"
)

var logger = setupLogger(getEnv("SHOPADMIN_LOG_LEVEL", "info"))

func setupLogger(logLevel string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return l
}

// storeLogger is handed to the stores and seeder, at the CLI's level
func storeLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel(logger.GetLevel().String()), os.Stderr)
}
