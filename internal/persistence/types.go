// Package persistence defines the repository abstraction shared by the
// document-store and blob-store backends: typed CRUD, paginated
// listing, and the schema-version migration contract they both honor.
package persistence

import "time"

// RoomStatus is the lifecycle state of a Room.
type RoomStatus string

const (
	RoomOpen          RoomStatus = "open"
	RoomActiveMeeting RoomStatus = "active_meeting"
	RoomClosed        RoomStatus = "closed"
)

// DeletionPolicy governs whether auto-deletion defers to, or overrides,
// an active meeting or existing recordings.
type DeletionPolicy string

const (
	PolicyDoNotDelete      DeletionPolicy = "do_not_delete"
	PolicyFail             DeletionPolicy = "fail"
	PolicyForce            DeletionPolicy = "force"
	PolicyWhenMeetingEnds  DeletionPolicy = "when_meeting_ends"
	PolicyWhenNoRecordings DeletionPolicy = "when_no_recordings"
)

// MeetingEndAction records what should happen to a room once its active
// meeting ends.
type MeetingEndAction string

const (
	MeetingEndActionNone   MeetingEndAction = "none"
	MeetingEndActionClose  MeetingEndAction = "close"
	MeetingEndActionDelete MeetingEndAction = "delete"
)

// AutoDeletionPolicy bundles the two independent axes of the room's
// auto-deletion policy matrix.
type AutoDeletionPolicy struct {
	WithMeeting    DeletionPolicy `bson:"withMeeting" json:"withMeeting"`
	WithRecordings DeletionPolicy `bson:"withRecordings" json:"withRecordings"`
}

// RoomConfig carries per-room feature toggles; opaque to the lifecycle
// manager beyond persistence.
type RoomConfig map[string]any

// Room is the persisted representation of a meeting container.
type Room struct {
	RoomID             string             `bson:"_id" json:"roomId"`
	RoomName           string             `bson:"roomName" json:"roomName"`
	Status             RoomStatus         `bson:"status" json:"status"`
	CreationDate       time.Time          `bson:"creationDate" json:"creationDate"`
	AutoDeletionDate   *time.Time         `bson:"autoDeletionDate,omitempty" json:"autoDeletionDate,omitempty"`
	AutoDeletionPolicy AutoDeletionPolicy `bson:"autoDeletionPolicy" json:"autoDeletionPolicy"`
	Config             RoomConfig         `bson:"config,omitempty" json:"config,omitempty"`
	MeetingEndAction   MeetingEndAction   `bson:"meetingEndAction" json:"meetingEndAction"`
	CreatedBy          string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	Version            int64              `bson:"version" json:"-"`
}

// RecordingStatus is the egress lifecycle state of a Recording.
type RecordingStatus string

const (
	RecordingStarting     RecordingStatus = "STARTING"
	RecordingActive       RecordingStatus = "ACTIVE"
	RecordingEnding       RecordingStatus = "ENDING"
	RecordingComplete     RecordingStatus = "COMPLETE"
	RecordingFailed       RecordingStatus = "FAILED"
	RecordingAborted      RecordingStatus = "ABORTED"
	RecordingLimitReached RecordingStatus = "LIMIT_REACHED"
)

// Terminal reports whether status admits no further transitions.
func (s RecordingStatus) Terminal() bool {
	switch s {
	case RecordingComplete, RecordingFailed, RecordingAborted, RecordingLimitReached:
		return true
	default:
		return false
	}
}

// AccessSecrets mint share tokens for a recording's playback artifact.
type AccessSecrets struct {
	Public  string `bson:"public" json:"public"`
	Private string `bson:"private" json:"private"`
}

// Recording is the persisted representation of an egress job.
type Recording struct {
	RecordingID   string          `bson:"_id" json:"recordingId"`
	RoomID        string          `bson:"roomId" json:"roomId"`
	EgressID      string          `bson:"egressId,omitempty" json:"egressId,omitempty"`
	AccessSecrets AccessSecrets   `bson:"accessSecrets" json:"accessSecrets"`
	Status        RecordingStatus `bson:"status" json:"status"`
	Filename      string          `bson:"filename,omitempty" json:"filename,omitempty"`
	StartDate     *time.Time      `bson:"startDate,omitempty" json:"startDate,omitempty"`
	EndDate       *time.Time      `bson:"endDate,omitempty" json:"endDate,omitempty"`
	Duration      float64         `bson:"duration,omitempty" json:"duration,omitempty"`
	Size          int64           `bson:"size,omitempty" json:"size,omitempty"`
	Error         string          `bson:"error,omitempty" json:"error,omitempty"`
	Layout        string          `bson:"layout,omitempty" json:"layout,omitempty"`
	Encoding      string          `bson:"encoding,omitempty" json:"encoding,omitempty"`
	LockToken     string          `bson:"lockToken,omitempty" json:"-"`
	UpdatedAt     time.Time       `bson:"updatedAt" json:"updatedAt"`
	Version       int64           `bson:"version" json:"-"`
}

// GlobalConfig is the singleton, schema-versioned project configuration.
type GlobalConfig struct {
	SchemaVersion  int            `bson:"schemaVersion" json:"schemaVersion"`
	SecurityConfig map[string]any `bson:"securityConfig" json:"securityConfig"`
	WebhooksConfig map[string]any `bson:"webhooksConfig" json:"webhooksConfig"`
	RoomsConfig    map[string]any `bson:"roomsConfig" json:"roomsConfig"`
}

// Role is a User's authorization tier.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleRoomMember Role = "room_member"
)

// User is an authenticated principal able to manage rooms and
// configuration.
type User struct {
	UserID             string `bson:"_id" json:"userId"`
	Name               string `bson:"name" json:"name"`
	Role               Role   `bson:"role" json:"role"`
	PasswordHash       string `bson:"passwordHash" json:"-"`
	MustChangePassword bool   `bson:"mustChangePassword" json:"mustChangePassword"`
}

// APIKey is an opaque bearer credential.
type APIKey struct {
	KeyID     string    `bson:"_id" json:"keyId"`
	HashedKey string    `bson:"hashedKey" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	Active    bool      `bson:"active" json:"active"`
}

// MigrationStatus is the lifecycle of a migration run.
type MigrationStatus string

const (
	MigrationRunning   MigrationStatus = "running"
	MigrationCompleted MigrationStatus = "completed"
	MigrationFailed    MigrationStatus = "failed"
)

// MigrationRecord tracks progress of a named migration for resumability.
type MigrationRecord struct {
	Name        string          `bson:"_id" json:"name"`
	Status      MigrationStatus `bson:"status" json:"status"`
	StartedAt   time.Time       `bson:"startedAt" json:"startedAt"`
	CompletedAt *time.Time      `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	Error       string          `bson:"error,omitempty" json:"error,omitempty"`
	Metadata    map[string]any  `bson:"metadata,omitempty" json:"metadata,omitempty"`
}
