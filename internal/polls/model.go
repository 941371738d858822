package polls

// PollRecord persists poll provenance and lifecycle state.
type PollRecord struct {
	PollID         string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	RoomID         string `gorm:"column:room_id;size:190;not null;index:idx_polls_room_status,priority:1"`
	Question       string `gorm:"column:question;type:text;not null"`
	CreatedBy      string `gorm:"column:created_by;size:190;not null"`
	CreatedAtMs    int64  `gorm:"column:created_at_ms;not null"`
	Status         string `gorm:"column:status;size:16;not null;index:idx_polls_room_status,priority:2"`
	WinnerOptionID string `gorm:"column:winner_option_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (PollRecord) TableName() string {
	return "polls"
}

// PollOptionRecord persists one option with its running count. Position
// preserves insertion order, which the winner tie-break depends on.
type PollOptionRecord struct {
	PollID    string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	OptionID  string `gorm:"column:option_id;primaryKey;size:190;not null"`
	Position  int    `gorm:"column:position;not null"`
	Text      string `gorm:"column:option_text;type:text;not null"`
	VoteCount int    `gorm:"column:vote_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (PollOptionRecord) TableName() string {
	return "poll_options"
}

// VoteRecord pins one user to one option per poll. The composite primary
// key is the durable backing for the no-vote-changes rule.
type VoteRecord struct {
	PollID   string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	UserID   string `gorm:"column:user_id;primaryKey;size:190;not null"`
	OptionID string `gorm:"column:option_id;size:190;not null"`
	CastAtMs int64  `gorm:"column:cast_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "poll_votes"
}
