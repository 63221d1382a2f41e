package services

// Inbound payloads, one per action kind.

type CreatePayload struct {
	Name     string   `json:"name"`
	OTP      bool     `json:"otp"`
	UseBells bool     `json:"useBells"`
	Lanes    []string `json:"lanes"`
}

type QueuePayload struct {
	QueueID string `json:"queueId"`
}

type UpdatePayload struct {
	QueueID  string  `json:"queueId"`
	Name     *string `json:"name,omitempty"`
	OTP      *bool   `json:"otp,omitempty"`
	UseBells *bool   `json:"useBells,omitempty"`
}

type JoinPayload struct {
	QueueID string `json:"queueId"`
	Code    string `json:"code,omitempty"`
}

type JoinManagerPayload struct {
	QueueID string `json:"queueId"`
	Secret  string `json:"secret"`
}

type CreateLanePayload struct {
	QueueID string `json:"queueId"`
	Name    string `json:"name,omitempty"`
}

type LanePayload struct {
	QueueID string `json:"queueId"`
	Lane    int    `json:"lane"`
}

type RenameLanePayload struct {
	QueueID string `json:"queueId"`
	Lane    int    `json:"lane"`
	Name    string `json:"name"`
}

type ConfirmPayload struct {
	QueueID     string `json:"queueId"`
	Lane        int    `json:"lane"`
	Success     bool   `json:"success"`
	Description string `json:"description,omitempty"`
}

type ConfirmBellPayload struct {
	QueueID string `json:"queueId"`
	Bell    int    `json:"bell"`
}

type DisconnectPayload struct {
	RemainingClients int `json:"remainingClients"`
}
