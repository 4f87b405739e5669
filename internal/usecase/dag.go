package usecase

import (
	"github.com/fairyhunter13/pixtools/internal/domain"
)

// dispatch fans the job out: the barrier is sized to the image operations and
// one task is published per operation. Metadata runs outside the barrier
// group; on metadata-only jobs it also carries the completion.
func (s *SubmitService) dispatch(ctx domain.Context, job domain.Job, params map[string]domain.OperationParams) error {
	var pipelineOps []string
	hasMetadata := false
	for _, op := range job.Operations {
		if op == domain.OpMetadata {
			hasMetadata = true
			continue
		}
		pipelineOps = append(pipelineOps, op)
	}

	headers := map[string]string{domain.HeaderJobID: job.ID}

	if len(pipelineOps) > 0 {
		if err := s.barrier.Init(ctx, job.ID, len(pipelineOps)); err != nil {
			return err
		}
		for i, op := range pipelineOps {
			kwargs := domain.ConvertTaskKwargs{
				JobID:  job.ID,
				RawKey: job.RawKey,
				Op:     op,
				Index:  i,
			}
			if p, ok := params[op]; ok {
				kwargs.Params = &p
			}
			if err := s.queue.Publish(ctx, domain.QueueForOperation(op), domain.TaskForOperation(op), kwargs, headers); err != nil {
				return err
			}
		}
	}

	if hasMetadata {
		kwargs := domain.MetadataTaskKwargs{
			JobID:         job.ID,
			RawKey:        job.RawKey,
			MarkCompleted: len(pipelineOps) == 0,
		}
		if err := s.queue.Publish(ctx, domain.QueueDefault, domain.TaskMetadata, kwargs, headers); err != nil {
			return err
		}
	}
	return nil
}
