package db

import (
	"time"
)

// Edition processing states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ContentByte type tags.
const (
	ByteTypeQuote            = "quote"
	ByteTypeInsight          = "insight"
	ByteTypeStatistic        = "statistic"
	ByteTypeAction           = "action"
	ByteTypeTakeaway         = "takeaway"
	ByteTypeMentalModel      = "mental_model"
	ByteTypeCounterintuitive = "counterintuitive"
)

// ContentByte categories.
const (
	CategoryGeneral      = "general"
	CategoryTech         = "tech"
	CategoryBusiness     = "business"
	CategoryFinance      = "finance"
	CategoryProductivity = "productivity"
	CategoryHealth       = "health"
	CategoryScience      = "science"
	CategoryCulture      = "culture"
)

func KnownByteTypes() []string {
	return []string{
		ByteTypeQuote,
		ByteTypeInsight,
		ByteTypeStatistic,
		ByteTypeAction,
		ByteTypeTakeaway,
		ByteTypeMentalModel,
		ByteTypeCounterintuitive,
	}
}

func KnownCategories() []string {
	return []string{
		CategoryGeneral,
		CategoryTech,
		CategoryBusiness,
		CategoryFinance,
		CategoryProductivity,
		CategoryHealth,
		CategoryScience,
		CategoryCulture,
	}
}

// Source maps feed.sources.
type Source struct {
	SourceID        int64     `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID      string    `gorm:"column:source_uuid;type:uuid;not null;unique"`
	Name            string    `gorm:"column:name;type:text;not null"`
	SenderIdentity  string    `gorm:"column:sender_identity;type:text;not null;unique"`
	Domain          *string   `gorm:"column:domain;type:text"`
	Category        string    `gorm:"column:category;type:text;not null;default:general"`
	WebsiteURL      *string   `gorm:"column:website_url;type:text"`
	SubscribeURL    *string   `gorm:"column:subscribe_url;type:text"`
	IsCurated       bool      `gorm:"column:is_curated;type:boolean;not null;default:false"`
	IsVerified      bool      `gorm:"column:is_verified;type:boolean;not null;default:false"`
	SubscriberCount int       `gorm:"column:subscriber_count;type:integer;not null;default:0"`
	TotalEngagement int64     `gorm:"column:total_engagement;type:bigint;not null;default:0"`
	AvgEngagement   float64   `gorm:"column:avg_engagement;type:double precision;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "feed.sources" }

// Edition maps feed.editions. Text is immutable once created; only the queue
// and the extraction pipeline touch processing fields.
type Edition struct {
	EditionID           int64      `gorm:"column:edition_id;primaryKey;autoIncrement"`
	EditionUUID         string     `gorm:"column:edition_uuid;type:uuid;not null;unique"`
	SourceID            int64      `gorm:"column:source_id;type:bigint;not null;index"`
	Subject             string     `gorm:"column:subject;type:text;not null"`
	RawHTML             *string    `gorm:"column:raw_html;type:text"`
	PlainText           string     `gorm:"column:plain_text;type:text;not null"`
	Language            string     `gorm:"column:language;type:text;not null;default:und"`
	Fingerprint         string     `gorm:"column:fingerprint;type:text;not null;unique"`
	ProcessingStatus    string     `gorm:"column:processing_status;type:text;not null;default:pending;index"`
	ProcessAttempts     int        `gorm:"column:process_attempts;type:integer;not null;default:0"`
	ReceivedAt          time.Time  `gorm:"column:received_at;type:timestamptz;not null"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at;type:timestamptz"`
	ProcessedAt         *time.Time `gorm:"column:processed_at;type:timestamptz"`
	ErrorMessage        *string    `gorm:"column:error_message;type:text"`
	Summary             *string    `gorm:"column:summary;type:text"`
	ReadTimeMinutes     *int       `gorm:"column:read_time_minutes;type:integer"`
	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Edition) TableName() string { return "feed.editions" }

// ContentByte maps feed.content_bytes. Engagement counters are mutated only
// by the engagement service; the ranking engine reads them.
type ContentByte struct {
	ByteID          int64     `gorm:"column:byte_id;primaryKey;autoIncrement"`
	ByteUUID        string    `gorm:"column:byte_uuid;type:uuid;not null;unique"`
	EditionID       int64     `gorm:"column:edition_id;type:bigint;not null;index"`
	SourceID        int64     `gorm:"column:source_id;type:bigint;not null;index"`
	Content         string    `gorm:"column:content;type:text;not null"`
	ByteType        string    `gorm:"column:byte_type;type:text;not null;default:insight"`
	Author          *string   `gorm:"column:author;type:text"`
	Context         *string   `gorm:"column:context;type:text"`
	Category        string    `gorm:"column:category;type:text;not null;default:general;index"`
	QualityScore    float64   `gorm:"column:quality_score;type:double precision;not null;default:0"`
	Upvotes         int       `gorm:"column:upvotes;type:integer;not null;default:0"`
	Downvotes       int       `gorm:"column:downvotes;type:integer;not null;default:0"`
	ViewCount       int       `gorm:"column:view_count;type:integer;not null;default:0"`
	SaveCount       int       `gorm:"column:save_count;type:integer;not null;default:0"`
	ShareCount      int       `gorm:"column:share_count;type:integer;not null;default:0"`
	EngagementScore float64   `gorm:"column:engagement_score;type:double precision;not null;default:0"`
	TrendingScore   float64   `gorm:"column:trending_score;type:double precision;not null;default:0"`
	IsSponsored     bool      `gorm:"column:is_sponsored;type:boolean;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ContentByte) TableName() string { return "feed.content_bytes" }

// UserEngagement maps feed.user_engagements; at most one row per (user, byte).
type UserEngagement struct {
	UserID      string    `gorm:"column:user_id;type:text;primaryKey"`
	ByteID      int64     `gorm:"column:byte_id;type:bigint;primaryKey"`
	Vote        int       `gorm:"column:vote;type:smallint;not null;default:0"`
	IsSaved     bool      `gorm:"column:is_saved;type:boolean;not null;default:false"`
	ViewCount   int       `gorm:"column:view_count;type:integer;not null;default:0"`
	DwellTimeMS int64     `gorm:"column:dwell_time_ms;type:bigint;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserEngagement) TableName() string { return "feed.user_engagements" }

// UserPreference maps feed.user_preferences; one weight per (user, category).
type UserPreference struct {
	UserID    string    `gorm:"column:user_id;type:text;primaryKey"`
	Category  string    `gorm:"column:category;type:text;primaryKey"`
	Weight    float64   `gorm:"column:weight;type:double precision;not null;default:0.5"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserPreference) TableName() string { return "feed.user_preferences" }

// ContentHistory maps feed.content_history; is_read only transitions false -> true.
type ContentHistory struct {
	UserID  string    `gorm:"column:user_id;type:text;primaryKey"`
	ByteID  int64     `gorm:"column:byte_id;type:bigint;primaryKey"`
	ShownAt time.Time `gorm:"column:shown_at;type:timestamptz;not null"`
	IsRead  bool      `gorm:"column:is_read;type:boolean;not null;default:false"`
}

func (ContentHistory) TableName() string { return "feed.content_history" }

// Subscription maps feed.subscriptions.
type Subscription struct {
	UserID    string    `gorm:"column:user_id;type:text;primaryKey"`
	SourceID  int64     `gorm:"column:source_id;type:bigint;primaryKey"`
	IsActive  bool      `gorm:"column:is_active;type:boolean;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Subscription) TableName() string { return "feed.subscriptions" }

// UserSettings maps feed.user_settings.
type UserSettings struct {
	UserID         string    `gorm:"column:user_id;type:text;primaryKey"`
	AllowSponsored bool      `gorm:"column:allow_sponsored;type:boolean;not null;default:false"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (UserSettings) TableName() string { return "feed.user_settings" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&Edition{},
		&ContentByte{},
		&UserEngagement{},
		&UserPreference{},
		&ContentHistory{},
		&Subscription{},
		&UserSettings{},
	}
}
