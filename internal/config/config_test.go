package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "8080"
  metrics_port: "9090"

gateway:
  providers:
    - id: "primary"
      kind: "anthropic"
      model: "claude-3-opus"
      timeout: "20s"
      max_retries: 2
      temperature: 0.3
      max_tokens: 2048
    - id: "fallback"
      kind: "bedrock"
      model: "anthropic.claude-v2"
      region: "us-east-1"
      timeout: "20s"
      temperature: 0.3
      max_tokens: 2048

store:
  address: "redis.internal:6379"
  db: 2

phase1:
  per_agent_timeout: "15s"
  phase_timeout: "30s"
  max_concurrency: 6

scoring:
  passenger_satisfaction: 0.30
  cost_efficiency: 0.25
  delay_reduction: 0.25
  execution_reliability: 0.20

catalogue:
  path: "config/agents.yaml"

logging:
  level: "info"
  format: "json"
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))

				Expect(cfg.Gateway.Providers).To(HaveLen(2))
				Expect(cfg.Gateway.Providers[0].ID).To(Equal("primary"))
				Expect(cfg.Gateway.Providers[0].Kind).To(Equal("anthropic"))
				Expect(cfg.Gateway.Providers[0].Timeout).To(Equal(20 * time.Second))
				Expect(cfg.Gateway.Providers[1].Kind).To(Equal("bedrock"))

				Expect(cfg.Store.Address).To(Equal("redis.internal:6379"))
				Expect(cfg.Store.DB).To(Equal(2))

				Expect(cfg.Phase1.PerAgentTimeout).To(Equal(15 * time.Second))
				Expect(cfg.Phase1.MaxConcurrency).To(Equal(6))

				Expect(cfg.Scoring.PassengerSatisfaction).To(Equal(0.30))
				Expect(cfg.Catalogue.Path).To(Equal("config/agents.yaml"))
				Expect(cfg.Logging.Level).To(Equal("info"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
gateway:
  providers:
    - id: "primary"
      kind: "anthropic"
      model: "claude-3-opus"
      temperature: 0.3
      max_tokens: 2048
`
				Expect(os.WriteFile(configFile, []byte(minimalConfig), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal("8080"))
				Expect(cfg.Store.Address).To(Equal("localhost:6379"))
				Expect(cfg.Phase1.MaxConcurrency).To(Equal(8))
				Expect(cfg.Catalogue.Path).To(Equal("config/agents.yaml"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  port: "8080"
  invalid_yaml: [
gateway:
  providers: []
`
				Expect(os.WriteFile(configFile, []byte(invalidConfig), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when no providers are configured", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("server:\n  port: \"8080\"\n"), 0644)).To(Succeed())
			})

			It("should fail validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("at least one gateway provider is required"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaultConfig()
			cfg.Gateway.Providers = []ProviderConfig{
				{ID: "primary", Kind: "anthropic", Model: "claude-3-opus", Temperature: 0.3, MaxTokens: 2048},
			}
		})

		It("should pass validation for a well-formed config", func() {
			Expect(validate(cfg)).To(Succeed())
		})

		Context("when a provider kind is invalid", func() {
			It("should return a validation error", func() {
				cfg.Gateway.Providers[0].Kind = "ollama-legacy"
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported gateway provider kind"))
			})
		})

		Context("when a provider's temperature is out of range", func() {
			It("should return a validation error", func() {
				cfg.Gateway.Providers[0].Temperature = 1.5
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("temperature must be between 0.0 and 1.0"))
			})
		})

		Context("when a provider's max tokens is invalid", func() {
			It("should return a validation error", func() {
				cfg.Gateway.Providers[0].MaxTokens = 0
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max tokens must be greater than 0"))
			})
		})

		Context("when the store address is empty", func() {
			It("should return a validation error", func() {
				cfg.Store.Address = ""
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("store address is required"))
			})
		})

		Context("when scoring weights do not sum to 1.0", func() {
			It("should return a validation error", func() {
				cfg.Scoring.PassengerSatisfaction = 0.9
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("scoring weights must sum to 1.0"))
			})
		})

		Context("when phase concurrency is invalid", func() {
			It("should return a validation error", func() {
				cfg.Phase1.MaxConcurrency = 0
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrency must be greater than 0"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("STORE_ADDRESS", "redis-test:6379")
				os.Setenv("ORCHESTRATOR_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("GLOBAL_TIMEOUT", "90s")
			})

			It("should load values from the environment", func() {
				Expect(loadFromEnv(cfg)).To(Succeed())

				Expect(cfg.Store.Address).To(Equal("redis-test:6379"))
				Expect(cfg.Server.Port).To(Equal("3000"))
				Expect(cfg.Server.MetricsPort).To(Equal("9999"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Orchestrator.GlobalTimeout).To(Equal(90 * time.Second))
			})
		})

		Context("when an invalid duration is set", func() {
			It("should return an error", func() {
				os.Setenv("GLOBAL_TIMEOUT", "not-a-duration")
				Expect(loadFromEnv(cfg)).To(HaveOccurred())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify the config", func() {
				original := *cfg
				Expect(loadFromEnv(cfg)).To(Succeed())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
