// Package config は各サービスの設定値を読み込む。
//
// 設定は優先度の低い順に、既定値、config.yaml、.envファイル、環境変数から読み込まれる。
// 環境変数名はキーの "." を "_" に置き換えて大文字にしたもの（例: loan.decision_delay → LOAN_DECISION_DELAY）。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// defaultPorts はサービスごとの既定ポート。
var defaultPorts = map[string]string{
	"gateway":      "8080",
	"eventstore":   "8084",
	"notification": "8086",
	"microfinance": "8087",
	"booking":      "8088",
	"forum":        "8089",
	"training":     "8090",
}

// Config はサービス共通の設定値。
type Config struct {
	// Service はサービス名。
	Service string `mapstructure:"-"`
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// Log はログ出力設定。
	Log LogConfig `mapstructure:"log"`
	// DB はSQLiteデータベース設定。
	DB DBConfig `mapstructure:"db"`
	// JWT はJWT認証設定。
	JWT JWTConfig `mapstructure:"jwt"`
	// Internal はサービス間の内部API設定。
	Internal InternalConfig `mapstructure:"internal"`
	// Frontend はフロントエンド設定。
	Frontend FrontendConfig `mapstructure:"frontend"`
	// Redis はRedis接続設定。Addrが空の場合はキャッシュを使用しない。
	Redis RedisConfig `mapstructure:"redis"`
	// Services は他サービスのベースURL。
	Services ServiceURLs `mapstructure:"services"`
	// Loan はマイクロファイナンス審査の設定。
	Loan LoanConfig `mapstructure:"loan"`
}

// LogConfig はログ出力設定。
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DBConfig はSQLiteデータベース設定。
type DBConfig struct {
	// Path はデータベースファイルのパス。
	Path string `mapstructure:"path"`
}

// JWTConfig はJWT認証設定。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// InternalConfig はサービス間の内部API設定。
type InternalConfig struct {
	// Token は内部APIの呼び出しに必要な共有トークン。
	Token string `mapstructure:"token"`
}

// FrontendConfig はフロントエンド設定。
type FrontendConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig はRedis接続設定。
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ServiceURLs は他サービスのベースURL。
type ServiceURLs struct {
	EventStore   string `mapstructure:"eventstore"`
	Notification string `mapstructure:"notification"`
	Microfinance string `mapstructure:"microfinance"`
	Booking      string `mapstructure:"booking"`
	Forum        string `mapstructure:"forum"`
	Training     string `mapstructure:"training"`
}

// LoanConfig はローン審査シミュレーションの設定。
type LoanConfig struct {
	// DecisionDelay は申請から審査結果確定までの遅延。
	DecisionDelay time.Duration `mapstructure:"decision_delay"`
	// ApprovalProbability は承認される確率（0.0〜1.0）。
	ApprovalProbability float64 `mapstructure:"approval_probability"`
	// DefaultInterestRate は申請時に金利が指定されなかった場合の年利（%）。
	DefaultInterestRate float64 `mapstructure:"default_interest_rate"`
	// PollInterval は審査タスクのポーリング間隔。
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize は1回のポーリングで処理する審査タスクの最大件数。
	BatchSize int `mapstructure:"batch_size"`
}

// Load は指定サービスの設定を読み込む。
func Load(service string) (*Config, error) {
	// .envは存在しなくてもよい
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	return FromViper(v, service)
}

// FromViper は既定値と環境変数をviperインスタンスに適用し、設定構造体に変換する。
func FromViper(v *viper.Viper, service string) (*Config, error) {
	setDefaults(v, service)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	cfg.Service = service

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	if c.Port == "" {
		return errors.New("portが設定されていません")
	}
	if c.Loan.ApprovalProbability < 0 || c.Loan.ApprovalProbability > 1 {
		return fmt.Errorf("loan.approval_probabilityは0から1の範囲で指定してください: %v", c.Loan.ApprovalProbability)
	}
	if c.Loan.DecisionDelay < 0 {
		return fmt.Errorf("loan.decision_delayは0以上で指定してください: %v", c.Loan.DecisionDelay)
	}
	if c.Loan.PollInterval <= 0 {
		return fmt.Errorf("loan.poll_intervalは正の値で指定してください: %v", c.Loan.PollInterval)
	}
	if c.Loan.BatchSize <= 0 {
		return fmt.Errorf("loan.batch_sizeは正の値で指定してください: %d", c.Loan.BatchSize)
	}
	return nil
}

// setDefaults は全キーの既定値を設定する。
func setDefaults(v *viper.Viper, service string) {
	port, ok := defaultPorts[service]
	if !ok {
		port = "8080"
	}
	v.SetDefault("port", port)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("db.path", fmt.Sprintf("/data/%s.db", service))
	v.SetDefault("jwt.secret", "dev-secret-key")
	v.SetDefault("internal.token", "dev-internal-token")
	v.SetDefault("frontend.url", "http://localhost:3000")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	v.SetDefault("services.eventstore", "http://localhost:8084")
	v.SetDefault("services.notification", "http://localhost:8086")
	v.SetDefault("services.microfinance", "http://localhost:8087")
	v.SetDefault("services.booking", "http://localhost:8088")
	v.SetDefault("services.forum", "http://localhost:8089")
	v.SetDefault("services.training", "http://localhost:8090")

	v.SetDefault("loan.decision_delay", 5*time.Second)
	v.SetDefault("loan.approval_probability", 0.7)
	v.SetDefault("loan.default_interest_rate", 12.5)
	v.SetDefault("loan.poll_interval", time.Second)
	v.SetDefault("loan.batch_size", 50)
}

// SQLiteDSN はWALモードとビジータイムアウトを指定したSQLite接続文字列を返す。
// 日時はソート可能な文字列形式で保存する。
func (c *Config) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", c.DB.Path)
}
