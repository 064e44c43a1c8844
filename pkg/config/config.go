package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config structs

type Config struct {
	IsDebug bool `yaml:"is_debug"`

	DataDir string `yaml:"data_dir"`

	Store     Store     `yaml:"store"`
	Aggregate Aggregate `yaml:"aggregate"`
	Loader    Loader    `yaml:"loader"`

	MySQL   MySQL   `yaml:"mysql"`
	SQLite  SQLite  `yaml:"sqlite"`
	Redis   Redis   `yaml:"redis"`
	Nats    Nats    `yaml:"nats"`
	Etcd    Etcd    `yaml:"etcd"`
	Metrics Metrics `yaml:"metrics"`
	Grpc    Grpc    `yaml:"grpc"`

	Env Env `yaml:"env"`
}

type Store struct {
	Partition   string `yaml:"partition"`    // month, week or day
	BlockSize   int    `yaml:"block_size"`   // rows per storage block of a partition
	BtreeDegree int    `yaml:"btree_degree"` // degree of every partition index
	Persist     bool   `yaml:"persist"`      // write partition logs under data_dir
}

type Aggregate struct {
	PublishRedis bool `yaml:"publish_redis"`
}

type Loader struct {
	Exchange  string `yaml:"exchange"` // exchange code used for csv files without one
	BatchSize int    `yaml:"batch_size"`
}

type MySQL struct {
	Main MySQLServer `yaml:"main"`
}

type MySQLServer struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Pass         string `yaml:"pass"`
	DB           string `yaml:"db"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type SQLite struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Redis struct {
	Main RedisServer `yaml:"main"`
}

type RedisServer struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Pass    string `yaml:"pass"`
	Timeout int    `yaml:"timeout"`
}

type Nats struct {
	Url     string `yaml:"url"` // used when etcd has no entry
	Stream  string `yaml:"stream"`
	Durable string `yaml:"durable"`
}

type Etcd struct {
	Main EtcdServer `yaml:"main"`
}

type EtcdServer struct {
	Enable bool   `yaml:"enable"`
	Url    string `yaml:"url"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Grpc struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // query service listen address
}

type Env struct {
	XlogMode  string `yaml:"xlog_mode"`
	XlogColor bool   `yaml:"xlog_color"`
}

// Global variables

const DEVDATA = "/usr/local/fodb/devdata"

var Shared *Config // single instance of the config

var (
	fConfig string // config file path
)

func init() {
	flag.StringVar(&fConfig, "config", "", "specify the config file")
}

// Default returns a config usable without any file, storing data under dataDir
func Default(dataDir string) *Config {
	c := &Config{DataDir: dataDir}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.Store.Partition == "" {
		c.Store.Partition = "month"
	}
	if c.Store.BlockSize <= 0 {
		c.Store.BlockSize = 128
	}
	if c.Store.BtreeDegree <= 1 {
		c.Store.BtreeDegree = 16
	}
	if c.Loader.Exchange == "" {
		c.Loader.Exchange = "NSE"
	}
	if c.Loader.BatchSize <= 0 {
		c.Loader.BatchSize = 500
	}
	if c.Nats.Stream == "" {
		c.Nats.Stream = "FODB"
	}
	if c.Nats.Durable == "" {
		c.Nats.Durable = "fodb-engine"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9108"
	}
	if c.Grpc.Addr == "" {
		c.Grpc.Addr = ":9109"
	}
	if c.MySQL.Main.MaxOpenConns <= 0 {
		c.MySQL.Main.MaxOpenConns = 8
	}
}

// RedisTimeout returns the configured redis timeout, 3s when unset
func (c *Config) RedisTimeout() time.Duration {
	if c.Redis.Main.Timeout <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Redis.Main.Timeout) * time.Second
}

// Load reads a config file without touching Shared
func Load(configFile string) (c *Config, err error) {
	file, err := os.Open(configFile)
	if err != nil {
		return
	}
	defer file.Close()

	c = &Config{}
	decoder := yaml.NewDecoder(file)
	err = decoder.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", configFile, err)
	}
	c.fillDefaults()
	return
}

// Initialize the Shared config with the given config file path
func Init(configFile string) {
	c, err := Load(configFile)
	if err != nil {
		panic(err)
	}
	Shared = c
}

// Initialize the Shared config with the default config file path
func EasyInit() {
	fpath := fConfig
	if fpath == "" {
		fpath = "config/config.yml"
	}

	// if the config file does not exist, use the default config file path
	if _, err := os.Stat(fpath); os.IsNotExist(err) {
		fpath = DEVDATA + "/config.yml"
		printf(fmt.Sprintf("use config: %s (DEVDATA)", fpath))
	} else {
		printf(fmt.Sprintf("use config: %s", fpath))
	}

	// initialize the config
	Init(fpath)
}

// Print the given string to the standard output
func printf(s string) {
	fmt.Printf("%s %s\n", time.Now().Format("2006/01/02 15:04:05"), s)
}
