// Package nav moves through the form's sections, saving on every step.
package nav

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wellfed/api/internal/schema"
)

var ErrOutOfRange = errors.New("section index out of range")

// Saver is the part of the sync coordinator navigation drives.
type Saver interface {
	SaveAsync(ctx context.Context) <-chan error
}

// Progress describes the current position for a progress indicator.
type Progress struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	Last  bool   `json:"last"`
}

type Navigator struct {
	schema    *schema.Schema
	saver     Saver
	awaitSave bool
	logger    *zap.Logger

	mu    sync.Mutex
	index int
}

// New returns a navigator at the first section. With awaitSave the step
// waits for its save to settle; otherwise the save runs in the background.
func New(s *schema.Schema, saver Saver, awaitSave bool, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{schema: s, saver: saver, awaitSave: awaitSave, logger: logger}
}

func (n *Navigator) Index() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

func (n *Navigator) IsLast() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index == n.schema.SectionCount()-1
}

func (n *Navigator) Progress() Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	section := n.schema.Sections[n.index]
	total := n.schema.SectionCount()
	return Progress{
		Index: n.index,
		Total: total,
		Title: section.Title,
		Icon:  section.Icon,
		Last:  n.index == total-1,
	}
}

// Next saves and moves forward one section, staying put on the last one.
func (n *Navigator) Next(ctx context.Context) int {
	return n.step(ctx, 1)
}

// Previous saves and moves back one section, staying put on the first one.
func (n *Navigator) Previous(ctx context.Context) int {
	return n.step(ctx, -1)
}

func (n *Navigator) step(ctx context.Context, delta int) int {
	done := n.saver.SaveAsync(ctx)
	if n.awaitSave {
		select {
		case err := <-done:
			if err != nil {
				n.logger.Warn("save before navigation failed", zap.Error(err))
			}
		case <-ctx.Done():
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	next := n.index + delta
	if next < 0 {
		next = 0
	}
	if last := n.schema.SectionCount() - 1; next > last {
		next = last
	}
	n.index = next
	return next
}

// JumpTo moves straight to index without saving.
func (n *Navigator) JumpTo(index int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= n.schema.SectionCount() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, index, n.schema.SectionCount())
	}
	n.index = index
	return nil
}
