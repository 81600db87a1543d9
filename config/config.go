package config

import (
	"os"

	"github.com/anyproto/any-sync/app"
	"gopkg.in/yaml.v3"

	"github.com/anyproto/anytype-object-store/db"
	"github.com/anyproto/anytype-object-store/docstore/badgerstore"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
	"github.com/anyproto/anytype-object-store/objects/usage"
)

const CName = "config"

// Store backend selectors.
const (
	StoreMongo  = "mongo"
	StoreBadger = "badger"
)

func NewFromFile(path string) (c *Config, err error) {
	c = &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if c.Store == "" {
		c.Store = StoreBadger
	}
	return
}

type Config struct {
	// Store selects the document-store backend, "mongo" or "badger".
	Store       string              `yaml:"store"`
	Mongo       db.Mongo            `yaml:"mongo"`
	BadgerStore badgerstore.Config  `yaml:"badgerStore"`
	Registry    typeregistry.Config `yaml:"registry"`
	Redis       usage.Config        `yaml:"redis"`
}

func (c *Config) Init(a *app.App) (err error) {
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetMongo() db.Mongo {
	return c.Mongo
}

func (c *Config) GetBadgerStore() badgerstore.Config {
	return c.BadgerStore
}

func (c *Config) GetRegistry() typeregistry.Config {
	return c.Registry
}

func (c *Config) GetRedis() usage.Config {
	return c.Redis
}
