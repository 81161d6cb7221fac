// Package config 应用配置
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 打卡模式
const (
	ModeEveryday  = "everyday"  // 每天打卡
	ModeWeekday   = "weekday"   // 仅法定工作日打卡
	ModeCustomize = "customize" // 自定义星期打卡
)

// Config 应用配置
type Config struct {
	Users   []UserConfig  `mapstructure:"users"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Storage StorageConfig `mapstructure:"storage"`
	Captcha CaptchaConfig `mapstructure:"captcha"`
}

// UserConfig 单个账号配置，一次运行期间不可变
type UserConfig struct {
	Phone    string        `mapstructure:"phone"`
	Password string        `mapstructure:"password"`
	Device   string        `mapstructure:"device"`
	ClockIn  ClockInConfig `mapstructure:"clock_in"`
}

// ClockInConfig 打卡策略配置
type ClockInConfig struct {
	Mode            string         `mapstructure:"mode"`
	CustomDays      []int          `mapstructure:"custom_days"` // 1=周一 .. 7=周日
	HolidaysClockIn bool           `mapstructure:"holidays_clock_in"`
	Location        LocationConfig `mapstructure:"location"`
}

// LocationConfig 打卡位置
type LocationConfig struct {
	Address   string  `mapstructure:"address"`
	Province  string  `mapstructure:"province"`
	City      string  `mapstructure:"city"`
	Area      string  `mapstructure:"area"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// SMTPConfig 邮件通知配置
type SMTPConfig struct {
	Enable   bool     `mapstructure:"enable"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// StorageConfig 本地状态存储配置
type StorageConfig struct {
	Backend string      `mapstructure:"backend"` // file 或 redis
	Dir     string      `mapstructure:"dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CaptchaConfig 验证码识别服务配置
type CaptchaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	return load()
}

// LoadFromFile 从指定路径加载配置
func LoadFromFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	return load()
}

func load() (*Config, error) {
	// 支持环境变量覆盖，如 GXY_SMTP_HOST
	viper.SetEnvPrefix("GXY")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults() {
	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.dir", "./user")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("smtp.port", 465)
}

// Validate 校验配置，启动时立即失败而不是使用时静默降级
func (c *Config) Validate() error {
	if len(c.Users) == 0 {
		return fmt.Errorf("配置校验失败: 至少需要一个用户")
	}
	for i := range c.Users {
		if err := c.Users[i].validate(); err != nil {
			return fmt.Errorf("用户 %d 配置校验失败: %w", i+1, err)
		}
	}
	switch c.Storage.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("配置校验失败: 不支持的存储后端 %q", c.Storage.Backend)
	}
	if c.SMTP.Enable {
		if c.SMTP.Host == "" || len(c.SMTP.To) == 0 {
			return fmt.Errorf("配置校验失败: 启用邮件通知时必须配置 host 和收件人")
		}
	}
	return nil
}

func (u *UserConfig) validate() error {
	if u.Phone == "" {
		return fmt.Errorf("手机号不能为空")
	}
	if u.Password == "" {
		return fmt.Errorf("密码不能为空")
	}
	if u.Device == "" {
		u.Device = "Android"
	}
	switch u.ClockIn.Mode {
	case "":
		u.ClockIn.Mode = ModeEveryday
	case ModeEveryday, ModeWeekday, ModeCustomize:
	default:
		return fmt.Errorf("不支持的打卡模式 %q", u.ClockIn.Mode)
	}
	for _, d := range u.ClockIn.CustomDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("customDays 取值范围为 1-7, 实际 %d", d)
		}
	}
	if u.ClockIn.Location.Address == "" {
		return fmt.Errorf("打卡地址不能为空")
	}
	return nil
}
