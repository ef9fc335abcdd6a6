package edupage

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// CancelChoice is the choice code for an explicit opt-out, which is not the
	// same thing as having no selection.
	CancelChoice = "AX"

	mutationAction = "ulozJedlaStravnika"
	mutationView   = "pc_listok"
	mutationRole   = "Student"
)

// Ack is the outcome of an accepted order or cancel.
type Ack struct {
	Date   string
	Choice string
	// Confirmed is false when the provider answered with something that isn't
	// JSON, such answers are accepted as success but aren't a real confirmation.
	Confirmed bool
}

type mutationPayload struct {
	BoarderId string            `json:"stravnikid"`
	Date      string            `json:"mysqlDate"`
	Choices   map[string]string `json:"jids"`
	View      string            `json:"view"`
	Role      string            `json:"pravo"`
}

// buildMutation creates the form for a single transaction that restates the
// whole (boarder, date, slot) -> choice mapping, the provider has no way of
// amending a single field.
func buildMutation(record MealRecord, choice, gsecHash string) (map[string]string, error) {
	if record.BoarderId == "" {
		return nil, fmt.Errorf("meal %s has no boarder id", record.Date)
	}
	if record.Date == "" || record.SlotId == "" {
		return nil, fmt.Errorf("meal record is missing its date or slot")
	}

	payload, err := json.Marshal(mutationPayload{
		BoarderId: record.BoarderId,
		Date:      record.Date,
		Choices:   map[string]string{record.SlotId: choice},
		View:      mutationView,
		Role:      mutationRole,
	})
	if err != nil {
		return nil, err
	}

	form := map[string]string{
		"akcia":          mutationAction,
		"jedlaStravnika": string(payload),
	}
	if gsecHash != "" {
		form["gsechash"] = gsecHash
	}
	return form, nil
}

type mutationAck struct {
	Error *looseString `json:"error"`
}

// interpretAck is strict about explicit errors and lenient about everything
// else: a JSON object with a non-empty error is a rejection, a body that isn't
// a JSON object is accepted as an unconfirmed success.
func interpretAck(body []byte, record MealRecord, choice string) (Ack, error) {
	ack := Ack{Date: record.Date, Choice: choice}

	var parsed mutationAck
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return ack, nil
	}
	ack.Confirmed = true

	if parsed.Error == nil {
		return ack, nil
	}
	message := strings.TrimSpace(string(*parsed.Error))
	if message == "" || message == "false" {
		return ack, nil
	}
	return Ack{}, &ChangeMealError{
		Date:    record.Date,
		Choice:  choice,
		Message: message,
	}
}
