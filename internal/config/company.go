package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CompanyProfile is the static issuer block printed on every invoice.
type CompanyProfile struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	Email   string `mapstructure:"email"`
	Phone   string `mapstructure:"phone"`
	TaxID   string `mapstructure:"taxId"`
	Website string `mapstructure:"website"`
}

func DefaultCompanyProfile() CompanyProfile {
	return CompanyProfile{
		Name:  "Paysettle",
		Email: "billing@paysettle.local",
	}
}

type CompanyConfigHolder struct {
	current atomic.Value // holds CompanyProfile
}

// NewStaticCompanyConfigHolder returns a holder that never reloads.
func NewStaticCompanyConfigHolder(profile CompanyProfile) *CompanyConfigHolder {
	holder := &CompanyConfigHolder{}
	holder.current.Store(profile)
	return holder
}

func NewCompanyConfigHolder(cfg Config, log *zap.Logger) (*CompanyConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.company")

	v := viper.New()
	if cfg.CompanyConfigPath != "" {
		v.SetConfigFile(cfg.CompanyConfigPath)
	} else {
		v.SetConfigName("company")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/paysettle")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PAYSETTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCompanyProfile()
	v.SetDefault("company.name", defaults.Name)
	v.SetDefault("company.email", defaults.Email)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	var profile CompanyProfile
	if err := v.UnmarshalKey("company", &profile); err != nil {
		return nil, err
	}
	if err := validateCompanyProfile(profile); err != nil {
		return nil, err
	}

	holder := NewStaticCompanyConfigHolder(profile)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CompanyProfile
		if err := v.UnmarshalKey("company", &updated); err != nil {
			log.Warn("company profile reload failed", zap.Error(err))
			return
		}
		if err := validateCompanyProfile(updated); err != nil {
			log.Warn("invalid company profile ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("company profile reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CompanyConfigHolder) Get() CompanyProfile {
	if h == nil {
		return DefaultCompanyProfile()
	}
	return h.current.Load().(CompanyProfile)
}

func validateCompanyProfile(profile CompanyProfile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return errors.New("company.name cannot be empty")
	}
	return nil
}
