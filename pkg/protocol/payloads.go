package protocol

// Application status values carried in the "status" field.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Messages the server uses to signal that pairing credentials are no longer valid.
const (
	MsgInvalidUser      = "Invalid user."
	MsgInvalidPairToken = "invalid pairToken"
)

// IsRevocationMessage reports whether an application error message revokes pairing.
func IsRevocationMessage(msg string) bool {
	return msg == MsgInvalidUser || msg == MsgInvalidPairToken
}

// ChildPayload is a child as listed by pairing and check responses.
type ChildPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Pin  string `json:"pin,omitempty"`
}

// PairDeviceRequest is the body of POST /api/pairDevice.
type PairDeviceRequest struct {
	User        string `json:"user"`
	Pass        string `json:"pass"`
	DeviceToken string `json:"deviceToken"`
	Name        string `json:"name"`
	UUID        string `json:"uuid"`
}

// PairDeviceResponse is the reply of POST /api/pairDevice.
type PairDeviceResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	UserID   int            `json:"userId"`
	Token    string         `json:"token"`
	Children []ChildPayload `json:"children"`
}

// DeviceRequest is the body shared by checkPairing and isDevicePaired.
type DeviceRequest struct {
	UUID        string `json:"uuid"`
	DeviceToken string `json:"deviceToken"`
}

// CheckPairingResponse is the reply of POST /api/checkPairing.
type CheckPairingResponse struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	PairToken string         `json:"pairToken"`
	UserID    int            `json:"userId"`
	ChildID   int            `json:"childId"`
	Children  []ChildPayload `json:"children"`
}

// ActivityLog is one requested activity and whether its usage should be logged.
type ActivityLog struct {
	ID  Activity `json:"id"`
	Log bool     `json:"log"`
}

// CheckRequest is the body of POST <service>/serviceapi/check.
type CheckRequest struct {
	UserID      int           `json:"userId"`
	PairToken   string        `json:"pairToken"`
	DeviceToken string        `json:"deviceToken"`
	Timezone    string        `json:"tz"`
	Activities  []ActivityLog `json:"activities"`
	Log         bool          `json:"log"`
	ChildID     int           `json:"childId,omitempty"`
}

// CheckResponse is the reply of the check endpoint. Allowed is a pointer so that
// an absent field can be told apart from false.
type CheckResponse struct {
	Status       string                     `json:"status,omitempty"`
	Message      string                     `json:"message,omitempty"`
	Allowed      *bool                      `json:"allowed"`
	Activities   map[string]ActivityPayload `json:"activities"`
	Subscription *SubscriptionPayload       `json:"subscription"`
	DayTypes     DayTypesPayload            `json:"dayTypes"`
	AllDayTypes  []DayTypePayload           `json:"allDayTypes"`
	Children     []ChildPayload             `json:"children"`
}

// ActivityPayload is the per-activity status in a check response.
// Remaining is in seconds; Expires is a unix timestamp (0 when absent).
type ActivityPayload struct {
	ID        Activity          `json:"id"`
	Name      string            `json:"name"`
	Timed     bool              `json:"timed"`
	Units     string            `json:"units,omitempty"`
	Banned    bool              `json:"banned"`
	Remaining int64             `json:"remaining"`
	Expires   int64             `json:"expires"`
	TimeBlock *TimeBlockPayload `json:"timeblock,omitempty"`
	Bans      *BansPayload      `json:"bans,omitempty"`
}

// TimeBlockPayload describes whether the current time block permits the activity.
type TimeBlockPayload struct {
	Allowed bool  `json:"allowed"`
	Ends    int64 `json:"ends"`
}

// BansPayload lists the bans currently applied to an activity.
type BansPayload struct {
	IDs  []int        `json:"ids,omitempty"`
	Bans []BanPayload `json:"bans"`
}

// BanPayload is a single ban. AppliedAt is a unix timestamp.
type BanPayload struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	AppliedAt       int64  `json:"appliedAt"`
	DurationMinutes int    `json:"durationMinutes"`
}

// SubscriptionPayload is the account subscription summary.
type SubscriptionPayload struct {
	Active       bool `json:"active"`
	Type         int  `json:"type"`
	MaxChildren  int  `json:"maxChildren"`
	ChildCount   int  `json:"childCount"`
	DeviceCount  int  `json:"deviceCount"`
	ServiceCount int  `json:"serviceCount"`
	Financial    bool `json:"financial"`
}

// DayTypesPayload carries today's and tomorrow's day types.
type DayTypesPayload struct {
	Today    *DayTypePayload `json:"today,omitempty"`
	Tomorrow *DayTypePayload `json:"tomorrow,omitempty"`
}

// DayTypePayload is a named day type (school day, weekend, holiday...).
type DayTypePayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ChildRequest is the body of POST /api/request, sent on behalf of a child
// to change today's day type and/or lift bans.
type ChildRequest struct {
	UserID      int    `json:"userId"`
	PairToken   string `json:"pairToken"`
	DeviceToken string `json:"deviceToken"`
	ChildID     int    `json:"childId"`
	DayType     int    `json:"dayType,omitempty"`
	Lift        []int  `json:"lift"`
	Message     string `json:"message,omitempty"`
}

// StatusResponse is a reply that only carries an application status.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
