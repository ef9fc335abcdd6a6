package edupage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MainSlot is the id of the lunch slot, "1" is the morning snack and "3" the
// afternoon snack, those are not exposed.
const MainSlot = "2"

const letters = "ABCDEFGH"

// Letter is how the provider encodes which menu option was chosen, A is option 1.
type Letter string

// ParseLetter accepts a single letter A-H (case insensitive, surrounding spaces ignored).
func ParseLetter(s string) (Letter, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || !strings.Contains(letters, s) {
		return "", false
	}
	return Letter(s), true
}

// LetterFromOption maps a 1-based option number to its letter.
func LetterFromOption(n int) (Letter, error) {
	if n < 1 || n > len(letters) {
		return "", fmt.Errorf("option number %d out of range 1-%d", n, len(letters))
	}
	return Letter(letters[n-1 : n]), nil
}

// OptionNumber is the 1-based menu option number of the letter.
func (l Letter) OptionNumber() int {
	if len(l) != 1 {
		return 0
	}
	return strings.Index(letters, string(l)) + 1
}

type MenuOption struct {
	Name string `json:"name"`
	// Number is the option number as printed by the provider ("1", "2", ...),
	// it is empty for rows without one (soup is usually listed like that).
	Number string `json:"number"`
}

// MealRecord is one slot of one day, identified by (BoarderId, Date, SlotId).
type MealRecord struct {
	Date          string  `json:"date"`
	BoarderId     string  `json:"boarder_id"`
	SlotId        string  `json:"slot_id"`
	OrderedChoice *Letter `json:"ordered_choice,omitempty"`
	// CanChangeUntil is nil when the provider didn't say, which means unknown and
	// not that the meal is locked.
	CanChangeUntil *time.Time   `json:"can_change_until,omitempty"`
	MenuOptions    []MenuOption `json:"menu_options"`
}

// OrderedOption returns the 1-based option number that is ordered, 0 if nothing is.
func (m MealRecord) OrderedOption() int {
	if m.OrderedChoice == nil {
		return 0
	}
	return m.OrderedChoice.OptionNumber()
}

// IsOrdered compares a menu option against the ordered letter, the provider
// uses letters for the choice but numbers for the menu rows.
func (m MealRecord) IsOrdered(option MenuOption) bool {
	ordered := m.OrderedOption()
	if ordered == 0 {
		return false
	}
	return strings.TrimSpace(option.Number) == strconv.Itoa(ordered)
}

// MaxListedOptions is how many menu rows are shown to users.
const MaxListedOptions = 7

// ListedOptions returns the menu rows shown to users, extra rows are cut off.
func (m MealRecord) ListedOptions() []MenuOption {
	if len(m.MenuOptions) > MaxListedOptions {
		return m.MenuOptions[:MaxListedOptions]
	}
	return m.MenuOptions
}

// looseString decodes JSON strings, numbers and null into a string.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		err := json.Unmarshal(data, &str)
		if err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	*s = looseString(data)
	return nil
}

type rawEvidence struct {
	Status looseString `json:"stav"`
	Object looseString `json:"obj"`
}

type rawRow struct {
	Name   looseString `json:"nazov"`
	Number looseString `json:"menusStr"`
}

// RawSlot is one meal slot of one day as it is found in the provider's data.
type RawSlot struct {
	IsCooking   *bool        `json:"isCooking"`
	Evidence    *rawEvidence `json:"evidencia"`
	ChangeUntil looseString  `json:"zmen_do"`
	Rows        []*rawRow    `json:"rows"`
}

// status codes meaning "the choice is whatever evidencia.obj says"
var delegatedStatuses = map[string]bool{
	"V": true,
	"E": true,
}

// decodeOrderedChoice reads evidencia.stav, a letter there is the choice itself,
// a delegated status defers to evidencia.obj and anything else (cancelled,
// not ordered, unknown) means there is no choice.
func decodeOrderedChoice(evidence *rawEvidence) *Letter {
	if evidence == nil {
		return nil
	}
	status := strings.TrimSpace(string(evidence.Status))
	if letter, ok := ParseLetter(status); ok {
		return &letter
	}
	if delegatedStatuses[status] {
		if letter, ok := ParseLetter(string(evidence.Object)); ok {
			return &letter
		}
	}
	return nil
}

var deadlineLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
}

func parseDeadline(value string, loc *time.Location) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	for _, layout := range deadlineLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return &t, true
		}
	}
	return nil, false
}

// ParseMeal turns one raw slot into a MealRecord, the second return value is
// false when the kitchen doesn't cook that slot. Deadlines are interpreted in `loc`.
func ParseMeal(raw RawSlot, boarderId, date, slotId string, loc *time.Location) (MealRecord, bool) {
	if raw.IsCooking != nil && !*raw.IsCooking {
		return MealRecord{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	deadline, _ := parseDeadline(string(raw.ChangeUntil), loc)

	options := []MenuOption{}
	for _, row := range raw.Rows {
		if row == nil || (row.Name == "" && row.Number == "") {
			continue
		}
		number := strings.TrimPrefix(string(row.Number), ": ")
		options = append(options, MenuOption{
			Name:   strings.TrimSpace(string(row.Name)),
			Number: strings.TrimSpace(number),
		})
	}

	return MealRecord{
		Date:           date,
		BoarderId:      boarderId,
		SlotId:         slotId,
		OrderedChoice:  decodeOrderedChoice(raw.Evidence),
		CanChangeUntil: deadline,
		MenuOptions:    options,
	}, true
}
