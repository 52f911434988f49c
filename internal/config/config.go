package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/allowance"
)

// GlobalFlags holds the command-line overrides. Flags win over environment
// variables, which win over the config file, which wins over defaults.
type GlobalFlags struct {
	ConfigPath    string
	ListenAddr    string
	LogLevel      string
	Timeout       string
	LedgerURL     string
	RedisAddr     string
	ApprovalGrant string
}

type Settings struct {
	ListenAddr          string
	LogLevel            string
	Timeout             time.Duration
	AggregatorBaseURL   string
	RPCOverrides        map[int64]string
	ApprovalPolicy      allowance.Policy
	ApprovalMarginPct   int64
	LedgerURL           string
	LedgerMaxAttempts   int
	LedgerBaseDelay     time.Duration
	LedgerMaxDelay      time.Duration
	SettlementStorePath string
	SettlementLockPath  string
	CachePath           string
	CacheLockPath       string
	CacheCapacity       int
	QuoteTTL            time.Duration
	RedisAddr           string
	RedisPassword       string
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	AllowOrigins        []string
}

type fileConfig struct {
	Listen     string           `yaml:"listen"`
	LogLevel   string           `yaml:"log_level"`
	Timeout    string           `yaml:"timeout"`
	Aggregator struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"aggregator"`
	Chains map[int64]struct {
		RPCURL string `yaml:"rpc_url"`
	} `yaml:"chains"`
	Approval struct {
		Policy        string `yaml:"policy"`
		MarginPercent *int64 `yaml:"margin_percent"`
	} `yaml:"approval"`
	Ledger struct {
		URL         string `yaml:"url"`
		MaxAttempts *int   `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
		MaxDelay    string `yaml:"max_delay"`
	} `yaml:"ledger"`
	Settlement struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"settlement"`
	Cache struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		Capacity *int   `yaml:"capacity"`
		QuoteTTL string `yaml:"quote_ttl"`
	} `yaml:"cache"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	RateLimit struct {
		Requests *int   `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"rate_limit"`
	CORS struct {
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"cors"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	switch settings.ApprovalPolicy {
	case allowance.PolicyUnlimited, allowance.PolicyExactMargin:
	default:
		return Settings{}, fmt.Errorf("approval policy must be %q or %q, got %q",
			allowance.PolicyUnlimited, allowance.PolicyExactMargin, settings.ApprovalPolicy)
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.RateLimitRequests <= 0 {
		settings.RateLimitRequests = 60
	}
	if settings.RateLimitWindow <= 0 {
		settings.RateLimitWindow = time.Minute
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		ListenAddr:          ":8080",
		LogLevel:            "info",
		Timeout:             10 * time.Second,
		ApprovalPolicy:      allowance.PolicyExactMargin,
		ApprovalMarginPct:   allowance.DefaultMarginPercent,
		LedgerMaxAttempts:   3,
		LedgerBaseDelay:     time.Second,
		LedgerMaxDelay:      10 * time.Second,
		SettlementStorePath: filepath.Join(dataDir, "settlements.db"),
		SettlementLockPath:  filepath.Join(dataDir, "settlements.lock"),
		CachePath:           filepath.Join(dataDir, "cache.db"),
		CacheLockPath:       filepath.Join(dataDir, "cache.lock"),
		CacheCapacity:       1024,
		QuoteTTL:            15 * time.Second,
		RateLimitRequests:   60,
		RateLimitWindow:     time.Minute,
		AllowOrigins:        []string{"*"},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "aivestor", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "aivestor"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Listen != "" {
		settings.ListenAddr = cfg.Listen
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Aggregator.BaseURL != "" {
		settings.AggregatorBaseURL = cfg.Aggregator.BaseURL
	}
	if len(cfg.Chains) > 0 {
		settings.RPCOverrides = make(map[int64]string, len(cfg.Chains))
		for chainID, chain := range cfg.Chains {
			if chain.RPCURL != "" {
				settings.RPCOverrides[chainID] = chain.RPCURL
			}
		}
	}
	if cfg.Approval.Policy != "" {
		settings.ApprovalPolicy = allowance.Policy(strings.ToLower(cfg.Approval.Policy))
	}
	if cfg.Approval.MarginPercent != nil {
		settings.ApprovalMarginPct = *cfg.Approval.MarginPercent
	}
	if cfg.Ledger.URL != "" {
		settings.LedgerURL = cfg.Ledger.URL
	}
	if cfg.Ledger.MaxAttempts != nil {
		settings.LedgerMaxAttempts = *cfg.Ledger.MaxAttempts
	}
	if cfg.Ledger.BaseDelay != "" {
		d, err := time.ParseDuration(cfg.Ledger.BaseDelay)
		if err != nil {
			return fmt.Errorf("config ledger.base_delay: %w", err)
		}
		settings.LedgerBaseDelay = d
	}
	if cfg.Ledger.MaxDelay != "" {
		d, err := time.ParseDuration(cfg.Ledger.MaxDelay)
		if err != nil {
			return fmt.Errorf("config ledger.max_delay: %w", err)
		}
		settings.LedgerMaxDelay = d
	}
	if cfg.Settlement.Path != "" {
		settings.SettlementStorePath = cfg.Settlement.Path
	}
	if cfg.Settlement.LockPath != "" {
		settings.SettlementLockPath = cfg.Settlement.LockPath
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.Capacity != nil {
		settings.CacheCapacity = *cfg.Cache.Capacity
	}
	if cfg.Cache.QuoteTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.QuoteTTL)
		if err != nil {
			return fmt.Errorf("config cache.quote_ttl: %w", err)
		}
		settings.QuoteTTL = d
	}
	if cfg.Redis.Addr != "" {
		settings.RedisAddr = cfg.Redis.Addr
	}
	if cfg.Redis.Password != "" {
		settings.RedisPassword = cfg.Redis.Password
	}
	if cfg.RateLimit.Requests != nil {
		settings.RateLimitRequests = *cfg.RateLimit.Requests
	}
	if cfg.RateLimit.Window != "" {
		d, err := time.ParseDuration(cfg.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("config rate_limit.window: %w", err)
		}
		settings.RateLimitWindow = d
	}
	if len(cfg.CORS.AllowOrigins) > 0 {
		settings.AllowOrigins = cfg.CORS.AllowOrigins
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("AIVESTOR_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("AIVESTOR_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("AIVESTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("AIVESTOR_AGGREGATOR_URL"); v != "" {
		settings.AggregatorBaseURL = v
	}
	if v := os.Getenv("AIVESTOR_APPROVAL_POLICY"); v != "" {
		settings.ApprovalPolicy = allowance.Policy(strings.ToLower(v))
	}
	if v := os.Getenv("AIVESTOR_APPROVAL_MARGIN"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ApprovalMarginPct = n
		}
	}
	if v := os.Getenv("AIVESTOR_LEDGER_URL"); v != "" {
		settings.LedgerURL = v
	}
	if v := os.Getenv("AIVESTOR_REDIS_ADDR"); v != "" {
		settings.RedisAddr = v
	}
	if v := os.Getenv("AIVESTOR_REDIS_PASSWORD"); v != "" {
		settings.RedisPassword = v
	}
	if v := os.Getenv("AIVESTOR_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.RateLimitRequests = n
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.ListenAddr != "" {
		settings.ListenAddr = flags.ListenAddr
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.LedgerURL != "" {
		settings.LedgerURL = flags.LedgerURL
	}
	if flags.RedisAddr != "" {
		settings.RedisAddr = flags.RedisAddr
	}
	if flags.ApprovalGrant != "" {
		settings.ApprovalPolicy = allowance.Policy(strings.ToLower(flags.ApprovalGrant))
	}
	return nil
}
