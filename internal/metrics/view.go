package metrics

import "github.com/yishak-cs/meal-metrics/internal/models"

// RowView is one row as presented to the operator
type RowView struct {
	Index     int                 `json:"index"`
	RowKey    string              `json:"row_key"`
	Row       models.Row          `json:"row"`
	Defaults  models.Distribution `json:"default_probabilities"`
	Balance   Balance             `json:"balance"`
	Status    RowStatus           `json:"status"`
	Label     string              `json:"label"`
	CanCommit bool                `json:"can_commit"`
}

// SessionView is a read-only snapshot of a session
type SessionView struct {
	SessionKey       string                                   `json:"session_key"`
	RemoteSessionKey string                                   `json:"remote_session_key,omitempty"`
	Generation       string                                   `json:"generation"`
	FlightNumber     string                                   `json:"flight_number"`
	FlightDate       string                                   `json:"flight_date"`
	Weekday          string                                   `json:"weekday"`
	Degraded         bool                                     `json:"degraded"`
	Warning          string                                   `json:"warning,omitempty"`
	Weights          models.Weights                           `json:"weights"`
	WeightBalance    Balance                                  `json:"weight_balance"`
	Segments         []models.MealTimeSegment                 `json:"segments"`
	Categories       map[models.Category]map[string][]RowView `json:"categories"`
	ModifiedRows     []models.ModifiedRow                     `json:"modified_rows"`
}

// View snapshots the session for display
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := SessionView{
		SessionKey:       s.key,
		RemoteSessionKey: s.remoteKey,
		Generation:       s.generation,
		FlightNumber:     s.flightNumber,
		FlightDate:       s.flightDate,
		Weekday:          s.weekday,
		Degraded:         s.remoteKey == "",
		Weights:          s.weights,
		WeightBalance:    ValidateWeights(s.weights),
		Segments:         s.table.Segments(),
		Categories:       make(map[models.Category]map[string][]RowView, len(models.Categories)),
		ModifiedRows:     s.overrides.List(),
	}
	if s.initErr != nil {
		view.Warning = s.initErr.Error()
	}

	for _, category := range models.Categories {
		view.Categories[category] = make(map[string][]RowView)
	}
	s.table.Each(func(category models.Category, mealTime string, index int, row models.Row) {
		ref := rowRef{category, mealTime, index}
		status := s.statusLocked(ref, &row)
		b, _ := ValidateRow(s.table, category, mealTime, index)
		rv := RowView{
			Index:     index,
			RowKey:    RowKey(category, mealTime, row),
			Row:       row.Clone(),
			Balance:   b,
			Status:    status,
			Label:     status.Label(),
			CanCommit: status.CanCommit(),
		}
		if def, err := s.defaults.Row(category, mealTime, index); err == nil {
			rv.Defaults = def.Probabilities
		}
		view.Categories[category][mealTime] = append(view.Categories[category][mealTime], rv)
	})
	return view
}
