package generation

import (
	"context"
	"fmt"
	"sync"
)

// scriptedProvider отдаёт статусы по очереди; последний повторяется.
type scriptedProvider struct {
	mu        sync.Mutex
	createErr error
	created   int
	scripts   map[string][]statusStep
	calls     map[string]int
}

type statusStep struct {
	status *VideoStatus
	err    error
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		scripts: make(map[string][]statusStep),
		calls:   make(map[string]int),
	}
}

func (p *scriptedProvider) script(videoID string, steps ...statusStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[videoID] = steps
}

func (p *scriptedProvider) CreateVideo(context.Context, string, []byte, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created++
	return fmt.Sprintf("vid-%d", p.created), nil
}

func (p *scriptedProvider) VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := p.scripts[videoID]
	if len(steps) == 0 {
		return &VideoStatus{VideoID: videoID, Status: StatusQueued}, nil
	}
	i := p.calls[videoID]
	p.calls[videoID]++
	if i >= len(steps) {
		i = len(steps) - 1
	}
	step := steps[i]
	if step.err != nil {
		return nil, step.err
	}
	st := *step.status
	st.VideoID = videoID
	return &st, nil
}

func (p *scriptedProvider) callCount(videoID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[videoID]
}

func step(status Status, progress int, url string) statusStep {
	return statusStep{status: &VideoStatus{Status: status, Progress: progress, URL: url}}
}
