package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

var envKeys = []string{
	"DROPMAIL_INGEST_API_SECRET",
	"DROPMAIL_INGEST_ALLOW_UNAUTHENTICATED",
	"DROPMAIL_SERVER_PORT",
	"DROPMAIL_MAIL_DOMAIN",
	"DROPMAIL_DATABASE_TYPE",
	"DROPMAIL_DATABASE_DSN",
	"DROPMAIL_REDIS_ENABLED",
	"DROPMAIL_REDIS_CACHE_TTL",
	"DROPMAIL_CLEANUP_INTERVAL",
	"DROPMAIL_SMTP_DOMAIN",
	"DROPMAIL_CORS_ALLOWED_ORIGINS",
	"DROPMAIL_S3_BUCKET",
	"DROPMAIL_TRIGGER_API_ENDPOINT",
}

// clearEnv 清空相关环境变量，测试结束后自动恢复
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
		assert.Equal(t, "temp.mail", cfg.Mail.Domain)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, "dropmail", cfg.Database.Name)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
		assert.Equal(t, time.Minute, cfg.Cleanup.Interval)
		assert.Equal(t, "dropmail-trigger", cfg.Ingest.TokenIssuer)
		assert.Equal(t, 25<<20, cfg.Ingest.MaxRawBytes)
		assert.Equal(t, "temp.mail", cfg.SMTP.Domain)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "./data/raw", cfg.ObjectStore.RawDir)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)
		t.Setenv("DROPMAIL_SERVER_PORT", "9090")
		t.Setenv("DROPMAIL_MAIL_DOMAIN", " Drop.Example.COM ")
		t.Setenv("DROPMAIL_DATABASE_TYPE", "Postgres")
		t.Setenv("DROPMAIL_DATABASE_DSN", "postgres://u:p@localhost/db")
		t.Setenv("DROPMAIL_REDIS_ENABLED", "true")
		t.Setenv("DROPMAIL_REDIS_CACHE_TTL", "30s")
		t.Setenv("DROPMAIL_CORS_ALLOWED_ORIGINS", "https://a.com, https://b.com")
		t.Setenv("DROPMAIL_S3_BUCKET", "mail-bucket")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "drop.example.com", cfg.Mail.Domain)
		assert.Equal(t, "drop.example.com", cfg.SMTP.Domain)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
		assert.Equal(t, []string{"https://a.com", "https://b.com"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "mail-bucket", cfg.ObjectStore.Bucket)
	})

	t.Run("缺少密钥时失败", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "DROPMAIL_INGEST_API_SECRET")
	})

	t.Run("密钥过短时失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("允许无认证时可以不设置密钥", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_ALLOW_UNAUTHENTICATED", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Ingest.AllowUnauthenticated)
		assert.Empty(t, cfg.Ingest.APISecret)
	})

	t.Run("非法域名失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)
		t.Setenv("DROPMAIL_MAIL_DOMAIN", "not a domain")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("非法清理周期失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)
		t.Setenv("DROPMAIL_CLEANUP_INTERVAL", "soon")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestDatabaseConfig(t *testing.T) {
	tests := []struct {
		name    string
		dbType  string
		dsn     string
		wantErr bool
	}{
		{"内存存储", "", "", false},
		{"MySQL", "mysql", "user:pass@tcp(localhost:3306)/db", false},
		{"MongoDB", "mongo", "mongodb://localhost:27017", false},
		{"缺少 DSN", "postgres", "", true},
		{"不支持的类型", "sqlite", "file.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)
			t.Setenv("DROPMAIL_DATABASE_TYPE", tt.dbType)
			t.Setenv("DROPMAIL_DATABASE_DSN", tt.dsn)

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dbType, cfg.Database.Type)
		})
	}
}

func TestLoadTrigger(t *testing.T) {
	t.Run("加载成功", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)
		t.Setenv("DROPMAIL_TRIGGER_API_ENDPOINT", "https://mail.example.com/")

		cfg, err := LoadTrigger()
		require.NoError(t, err)
		assert.Equal(t, "https://mail.example.com", cfg.APIEndpoint)
		assert.Equal(t, time.Minute, cfg.TokenTTL)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, "dropmail-trigger", cfg.TokenIssuer)
	})

	t.Run("缺少端点失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_INGEST_API_SECRET", testSecret)

		_, err := LoadTrigger()
		assert.Error(t, err)
	})

	t.Run("缺少密钥失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPMAIL_TRIGGER_API_ENDPOINT", "https://mail.example.com")

		_, err := LoadTrigger()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"单个值", "*", []string{"*"}},
		{"多个值带空格", " a , b ,c ", []string{"a", "b", "c"}},
		{"空字符串", "", []string{}},
		{"只有逗号", ",,", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseList(tt.input))
		})
	}
}
