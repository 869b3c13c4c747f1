package shared

type ServerConfig struct {
	Sqlite   SqliteConfig   `mapstructure:"sqlite" validate:"required"`
	Sentinel SentinelConfig `mapstructure:"sentinel" validate:"required"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Google   GoogleConfig   `mapstructure:"google"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase" validate:"required"`
}

type SentinelConfig struct {
	PrivateKeyPem string         `mapstructure:"privateKeyPem" validate:"required"`
	Cron          CronConfig     `mapstructure:"cron" validate:"required"`
	Listener      ListenerConfig `mapstructure:"listener" validate:"required"`
}

// TwilioConfig carries the SMS gateway credentials. 'Enabled' is an explicit
// switch for alert dispatch, so a gateway that is down is distinguishable
// from one that was never configured.
type TwilioConfig struct {
	AccountSid          string      `mapstructure:"accountSid" validate:"required_with=Enabled"`
	AuthToken           string      `mapstructure:"authToken" validate:"required_with=Enabled"`
	MessagingServiceSid string      `mapstructure:"messagingServiceSid" validate:"required_with=Enabled"`
	Enabled             interface{} `mapstructure:"enabled" validate:"omitempty,bool"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

type StorageConfig struct {
	Bucket                    string      `mapstructure:"bucket" validate:"required_with=EnableSqliteBackupAndSync"`
	Prefix                    string      `mapstructure:"prefix" validate:"required_with=EnableSqliteBackupAndSync"`
	SqliteBackupSchedule      string      `mapstructure:"sqliteBackupSchedule" validate:"required_with=EnableSqliteBackupAndSync"`
	EnableSqliteBackupAndSync interface{} `mapstructure:"enableSqliteBackupAndSync" validate:"omitempty,bool"`
}
