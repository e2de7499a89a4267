package presenter

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hmiyata/weave/internal/application/dto"
	"github.com/hmiyata/weave/internal/domain/model/merge"
	"github.com/hmiyata/weave/internal/domain/model/reservation"
	"github.com/hmiyata/weave/internal/domain/model/workitem"
)

// JSONPresenter renders machine-readable output, one document per call
type JSONPresenter struct {
	w io.Writer
}

// NewJSONPresenter creates a JSON presenter writing to w
func NewJSONPresenter(w io.Writer) *JSONPresenter {
	return &JSONPresenter{w: w}
}

func (p *JSONPresenter) emit(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *JSONPresenter) Execution(v *dto.ExecutionView) error {
	return p.emit(v)
}

func (p *JSONPresenter) Executions(vs []*dto.ExecutionView) error {
	if vs == nil {
		vs = []*dto.ExecutionView{}
	}
	return p.emit(vs)
}

// workItemDoc flattens the work item for output, adding the computed score
type workItemDoc struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	TemplateID string   `json:"template_id"`
	Status     string   `json:"status"`
	Score      float64  `json:"score"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Sequence   int      `json:"sequence"`
}

func (p *JSONPresenter) WorkItems(items []*workitem.WorkItem) error {
	docs := make([]workItemDoc, 0, len(items))
	for _, item := range items {
		docs = append(docs, workItemDoc{
			ID:         item.ID,
			Title:      item.Title,
			TemplateID: item.TemplateID,
			Status:     string(item.Status),
			Score:      item.Score(),
			DependsOn:  item.DependsOn,
			Sequence:   item.Sequence,
		})
	}
	return p.emit(docs)
}

func (p *JSONPresenter) MergeRequests(reqs []*merge.Request) error {
	if reqs == nil {
		reqs = []*merge.Request{}
	}
	return p.emit(reqs)
}

// reservationDoc exposes the reservation's unexported state for output
type reservationDoc struct {
	ResourceID string     `json:"resource_id"`
	HolderID   string     `json:"holder_id"`
	Type       string     `json:"type"`
	ClaimedAt  time.Time  `json:"claimed_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (p *JSONPresenter) Reservations(rs []*reservation.Reservation) error {
	docs := make([]reservationDoc, 0, len(rs))
	for _, r := range rs {
		doc := reservationDoc{
			ResourceID: r.ResourceID(),
			HolderID:   r.HolderID(),
			Type:       string(r.ResType()),
			ClaimedAt:  r.ClaimedAt(),
		}
		if !r.ExpiresAt().IsZero() {
			t := r.ExpiresAt()
			doc.ExpiresAt = &t
		}
		docs = append(docs, doc)
	}
	return p.emit(docs)
}

func (p *JSONPresenter) Message(format string, args ...interface{}) error {
	return p.emit(map[string]string{"message": fmt.Sprintf(format, args...)})
}
