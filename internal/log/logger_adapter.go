package log

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// LoggerConfig drives initByConfig. Pattern uses the %time/%level/%field/
// %msg/%caller/%func/%goroutine placeholders formatter.Format expands.
type LoggerConfig struct {
	Pattern   string           `mapstructure:"pattern"`
	Time      string           `mapstructure:"time"`
	Level     string           `mapstructure:"level"`
	Appenders []AppenderConfig `mapstructure:"appenders"`
}

type logrusAdapter struct {
	entry *logrus.Entry
}

func initByConfig(cfg *LoggerConfig) error {
	l := logrus.New()
	l.SetFormatter(&formatter{
		pattern: cfg.Pattern,
		time:    cfg.Time,
	})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	mw, err := buildAppenders(cfg.Appenders)
	if err != nil {
		return err
	}
	l.SetOutput(mw)
	l.SetReportCaller(true)

	logger = &logrusAdapter{
		entry: logrus.NewEntry(l),
	}
	return nil
}

// buildAppenders wires each configured appender to the shared MultiWriter.
// An empty list defaults to stdout only, so Init never produces a logger
// with nowhere to write.
func buildAppenders(cfgs []AppenderConfig) (*MultiWriter, error) {
	mw := NewMultiWriter()
	if len(cfgs) == 0 {
		return mw.Add(os.Stdout), nil
	}
	for _, a := range cfgs {
		switch a.Type {
		case "stdout", "":
			mw.Add(os.Stdout)
		case "file":
			opt, err := fileAppenderOptFromMap(a.Options)
			if err != nil {
				return nil, fmt.Errorf("log: file appender: %w", err)
			}
			mw.AddFileAppender(opt)
		default:
			return nil, fmt.Errorf("log: unknown appender type %q", a.Type)
		}
	}
	return mw, nil
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
