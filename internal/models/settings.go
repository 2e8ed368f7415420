package models

// ReservationSettings is the effective scheduling configuration for an
// account, optionally narrowed to a single team member. Every field is
// fully resolved: override rows and preset defaults have already been
// merged by the time a value of this type exists.
type ReservationSettings struct {
	BusinessPreset           string  `json:"business_preset"`
	BufferMinutes            int     `json:"buffer_minutes"`
	SlotIntervalMinutes      int     `json:"slot_interval_minutes"`
	MinNoticeMinutes         int     `json:"min_notice_minutes"`
	MaxAdvanceDays           int     `json:"max_advance_days"`
	CancellationCutoffHours  int     `json:"cancellation_cutoff_hours"`
	AllowClientCancel        bool    `json:"allow_client_cancel"`
	AllowClientReschedule    bool    `json:"allow_client_reschedule"`
	LateReleaseMinutes       int     `json:"late_release_minutes"`
	WaitlistEnabled          bool    `json:"waitlist_enabled"`
	QueueModeEnabled         bool    `json:"queue_mode_enabled"`
	QueueAssignmentMode      string  `json:"queue_assignment_mode"`
	QueueDispatchMode        string  `json:"queue_dispatch_mode"`
	QueueGraceMinutes        int     `json:"queue_grace_minutes"`
	QueuePreCallThreshold    int     `json:"queue_pre_call_threshold"`
	QueueNoShowOnGraceExpiry bool    `json:"queue_no_show_on_grace_expiry"`
	DepositRequired          bool    `json:"deposit_required"`
	DepositAmount            float64 `json:"deposit_amount"`
	NoShowFeeEnabled         bool    `json:"no_show_fee_enabled"`
	NoShowFeeAmount          float64 `json:"no_show_fee_amount"`
}

const (
	PresetServiceGeneral = "service_general"
	PresetSalon          = "salon"
	PresetRestaurant     = "restaurant"
)

const (
	AssignmentPerStaff   = "per_staff"
	AssignmentGlobalPull = "global_pull"
)

const DispatchFIFOWithAppointmentPriority = "fifo_with_appointment_priority"
