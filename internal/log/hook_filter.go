package log

import (
	"fmt"
	"io"
	"regexp"

	"github.com/sirupsen/logrus"
)

// FilterHook drops every entry whose message does not match a pattern.
type FilterHook struct {
	filter *regexp.Regexp
}

// NewFilterHook compiles filter into a FilterHook. An empty filter keeps
// every entry.
func NewFilterHook(filter string) (*FilterHook, error) {
	if filter == "" {
		return &FilterHook{}, nil
	}

	re, err := regexp.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("log filter does not compile: %w", err)
	}
	logrus.Debugf("Using log filter: %q", re)

	return &FilterHook{filter: re}, nil
}

// Levels returns the levels for which the hook is activated.
func (f *FilterHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire executes the hook for every logrus entry.
func (f *FilterHook) Fire(entry *logrus.Entry) error {
	if f.filter == nil || f.filter.MatchString(entry.Message) {
		return nil
	}

	*entry = logrus.Entry{
		Logger: &logrus.Logger{
			Out:       io.Discard,
			Formatter: &logrus.JSONFormatter{},
		},
	}
	return nil
}
