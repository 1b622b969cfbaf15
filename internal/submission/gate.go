package submission

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownChecklistItem = errors.New("unknown checklist item")

type ChecklistItem string

const (
	StandardsCompliance ChecklistItem = "standards_compliance"
	TechnicalAccuracy   ChecklistItem = "technical_accuracy"
	Completeness        ChecklistItem = "completeness"
	ClientRequirements  ChecklistItem = "client_requirements"
)

// ChecklistItems lists every gate item in display order.
var ChecklistItems = []ChecklistItem{
	StandardsCompliance,
	TechnicalAccuracy,
	Completeness,
	ClientRequirements,
}

func ParseChecklistItem(s string) (ChecklistItem, error) {
	item := ChecklistItem(s)
	for _, known := range ChecklistItems {
		if item == known {
			return item, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChecklistItem, s)
}

type ItemState struct {
	Item    ChecklistItem `json:"item"`
	Checked bool          `json:"checked"`
}

// QualityGate is the pre-submission checklist of one milestone attempt.
type QualityGate struct {
	mu      sync.Mutex
	checked map[ChecklistItem]bool
}

func NewQualityGate() *QualityGate {
	return &QualityGate{checked: make(map[ChecklistItem]bool, len(ChecklistItems))}
}

// Toggle flips one item and returns its new value.
func (g *QualityGate) Toggle(item ChecklistItem) (bool, error) {
	if _, err := ParseChecklistItem(string(item)); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.checked[item] = !g.checked[item]
	return g.checked[item], nil
}

func (g *QualityGate) Set(item ChecklistItem, checked bool) error {
	if _, err := ParseChecklistItem(string(item)); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.checked[item] = checked
	return nil
}

// Ready is recomputed on every call.
func (g *QualityGate) Ready() bool {
	return len(g.Missing()) == 0
}

// Missing returns the unchecked items in display order.
func (g *QualityGate) Missing() []ChecklistItem {
	g.mu.Lock()
	defer g.mu.Unlock()

	var missing []ChecklistItem
	for _, item := range ChecklistItems {
		if !g.checked[item] {
			missing = append(missing, item)
		}
	}
	return missing
}

func (g *QualityGate) Items() []ItemState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]ItemState, 0, len(ChecklistItems))
	for _, item := range ChecklistItems {
		out = append(out, ItemState{Item: item, Checked: g.checked[item]})
	}
	return out
}

func (g *QualityGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.checked)
}
