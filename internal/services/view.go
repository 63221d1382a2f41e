package services

import (
	"slices"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"queue-system/models"
)

// otpOpts is shared by code generation for managers and validation on join.
var otpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type LaneView struct {
	Name       string     `json:"name"`
	Occupant   string     `json:"occupant,omitempty"`
	AssignedAt *time.Time `json:"assignedAt,omitempty"`
}

type BellView struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// ParticipantView is what a queue looks like to one participant.
type ParticipantView struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	OTP             bool            `json:"otp"`
	UseBells        bool            `json:"useBells"`
	Date            time.Time       `json:"date"`
	ProcessTimeAvg  float64         `json:"processTimeAvg"`
	QueueUsers      int             `json:"queueUsers"`
	QueueBefore     int             `json:"queueBefore"`
	QueueAfter      int             `json:"queueAfter"`
	UserDisplayName string          `json:"userDisplayName,omitempty"`
	Lanes           []LaneView      `json:"lanes"`
	Position        models.Position `json:"position"`
	LanePosition    *int            `json:"lanePosition,omitempty"`
}

// ManagerView is the full queue with identities replaced by display names.
type ManagerView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OTP            bool       `json:"otp"`
	OTPCode        string     `json:"otpCode,omitempty"`
	UseBells       bool       `json:"useBells"`
	Date           time.Time  `json:"date"`
	ProcessTimeAvg float64    `json:"processTimeAvg"`
	ProcessedUsers int64      `json:"processedUsers"`
	ProcessedTime  int64      `json:"processedTime"`
	Lanes          []LaneView `json:"lanes"`
	Waiting        []string   `json:"waiting"`
	Bells          []BellView `json:"bells"`
	BellsProcessed []string   `json:"bellsProcessed"`
	ManagerSecret  string     `json:"managerSecret,omitempty"`
}

// ProcessTimeAvg is the mean service time in milliseconds, rounded to two
// places, and 0 before anyone has been served.
func ProcessTimeAvg(q *models.Queue) float64 {
	if q.ProcessedUsers == 0 {
		return 0
	}
	return decimal.NewFromInt(q.ProcessedTime).
		DivRound(decimal.NewFromInt(q.ProcessedUsers), 2).
		InexactFloat64()
}

func NewParticipantView(q *models.Queue, userID string) *ParticipantView {
	v := &ParticipantView{
		ID:              q.ID,
		Name:            q.Name,
		OTP:             q.OTP,
		UseBells:        q.UseBells,
		Date:            q.CreatedAt,
		ProcessTimeAvg:  ProcessTimeAvg(q),
		QueueUsers:      len(q.Waiting),
		UserDisplayName: q.DisplayName(userID),
		Lanes:           make([]LaneView, len(q.Lanes)),
		Position:        q.PositionOf(userID),
	}
	for i, lane := range q.Lanes {
		v.Lanes[i] = LaneView{Name: lane.Name, Occupant: q.DisplayName(lane.Occupant)}
	}

	switch v.Position {
	case models.PositionQueue:
		i := slices.Index(q.Waiting, userID)
		v.QueueBefore = i
		v.QueueAfter = len(q.Waiting) - i - 1
	case models.PositionLane:
		i := q.LaneOf(userID)
		v.LanePosition = &i
	}
	return v
}

// NewManagerView projects q for its managers. The otp code is computed for now.
func NewManagerView(q *models.Queue, now time.Time) *ManagerView {
	v := &ManagerView{
		ID:             q.ID,
		Name:           q.Name,
		OTP:            q.OTP,
		UseBells:       q.UseBells,
		Date:           q.CreatedAt,
		ProcessTimeAvg: ProcessTimeAvg(q),
		ProcessedUsers: q.ProcessedUsers,
		ProcessedTime:  q.ProcessedTime,
		Lanes:          make([]LaneView, len(q.Lanes)),
		Waiting:        make([]string, len(q.Waiting)),
		Bells:          make([]BellView, len(q.Bells)),
		BellsProcessed: make([]string, len(q.BellsProcessed)),
	}
	if q.OTP {
		if code, err := totp.GenerateCodeCustom(q.OTPSecret, now, otpOpts); err == nil {
			v.OTPCode = code
		}
	}
	for i, lane := range q.Lanes {
		lv := LaneView{Name: lane.Name}
		if lane.Occupant != "" {
			at := lane.AssignedAt
			lv.Occupant = q.DisplayName(lane.Occupant)
			lv.AssignedAt = &at
		}
		v.Lanes[i] = lv
	}
	for i, id := range q.Waiting {
		v.Waiting[i] = q.DisplayName(id)
	}
	for i, id := range q.Bells {
		data := q.UserData[id]
		v.Bells[i] = BellView{DisplayName: data.DisplayName, Description: data.Description}
	}
	for i, id := range q.BellsProcessed {
		v.BellsProcessed[i] = q.DisplayName(id)
	}
	return v
}
