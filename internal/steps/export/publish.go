package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/reportq/internal/providers"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

// PublishDumpStep completes the archive and hands it to the uploader.
type PublishDumpStep struct {
	task     *domain.Task
	uploader providers.Uploader
	dump     *DumpWriter
}

func NewPublishDumpStep(task *domain.Task, uploader providers.Uploader, dump *DumpWriter) *PublishDumpStep {
	return &PublishDumpStep{task: task, uploader: uploader, dump: dump}
}

func (s *PublishDumpStep) Description() string { return "Publish dump" }

func (s *PublishDumpStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	r, size, err := s.dump.Finish()
	if err != nil {
		return err
	}
	location, err := s.uploader.Upload(ctx, DumpObjectPath(s.dump.Subject, s.task.ID), "application/zip", r)
	if err != nil {
		return fmt.Errorf("upload dump: %w", err)
	}
	ctx.AddDiagnostic("location", location)
	ctx.AddDiagnostic("bytes", strconv.FormatInt(size, 10))
	return nil
}

// DumpObjectPath is where the dump of taskID is published.
func DumpObjectPath(subject *domain.Subject, taskID string) string {
	key := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(subject.Key)
	if subject.Branch != "" {
		key += "@" + strings.NewReplacer("/", "_", "\\", "_").Replace(subject.Branch)
	}
	return "dumps/" + key + "/" + taskID + ".zip"
}
