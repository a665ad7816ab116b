package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database     *DatabaseConfig
	Service      *ServiceConfig
	Pipeline     *PipelineConfig
	Science      *ScienceConfig
	Agent        *AgentConfig
	ControlStore *ControlStoreConfig
}

type DatabaseConfig struct {
	Hostname string `envconfig:"NEXUS_DB_HOST" default:"localhost"`
	Port     string `envconfig:"NEXUS_DB_PORT" default:"5432"`
	Name     string `envconfig:"NEXUS_DB_NAME" default:"nexus_mapping"`
	User     string `envconfig:"NEXUS_DB_USER" default:"nexus"`
	Password string `envconfig:"NEXUS_DB_PASS" default:"nexuspass"`
}

type ServiceConfig struct {
	Address         string `envconfig:"NEXUS_MAPPING_ADDRESS" default:":8443"`
	MetricsAddress  string `envconfig:"NEXUS_MAPPING_METRICS_ADDRESS" default:":9090"`
	LogLevel        string `envconfig:"NEXUS_MAPPING_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"NEXUS_MAPPING_MIGRATIONS_FOLDER" default:"./migrations"`
	PolicyFolder    string `envconfig:"NEXUS_MAPPING_POLICY_FOLDER" default:"./policy"`
}

// PipelineConfig holds the tunables enumerated in spec.md §6's configuration table.
type PipelineConfig struct {
	ModelVersion         string        `envconfig:"NEXUS_MODEL_VERSION" default:"v1"`
	EnrichmentVersion    string        `envconfig:"NEXUS_ENRICHMENT_VERSION" default:"v1"`
	TopK                 int           `envconfig:"NEXUS_TOP_K" default:"20"`
	RerankMin            float64       `envconfig:"NEXUS_RERANK_MIN" default:"0.5"`
	ReasoningConcurrency int           `envconfig:"NEXUS_REASONING_CONCURRENCY" default:"5"`
	EmbedBatchSize       int           `envconfig:"NEXUS_EMBED_BATCH_SIZE" default:"32"`
	WorkflowBudget       time.Duration `envconfig:"NEXUS_WORKFLOW_BUDGET" default:"540s"`
	VisibilityTimeout    time.Duration `envconfig:"NEXUS_VISIBILITY_TIMEOUT" default:"360s"`
	MaxReceiveCount      int           `envconfig:"NEXUS_MAX_RECEIVE_COUNT" default:"3"`
	JobTTL               time.Duration `envconfig:"NEXUS_JOB_TTL" default:"168h"`
	VectorDimension      int           `envconfig:"NEXUS_VECTOR_DIMENSION" default:"4096"`
	SuggestionCount      int           `envconfig:"NEXUS_SUGGESTION_COUNT" default:"10"`
}

type ScienceConfig struct {
	BaseURL       string        `envconfig:"NEXUS_SCIENCE_BASE_URL" default:"http://localhost:8081"`
	ReadTimeout   time.Duration `envconfig:"NEXUS_SCIENCE_READ_TIMEOUT" default:"30s"`
	OverallTimeout time.Duration `envconfig:"NEXUS_SCIENCE_TOTAL_TIMEOUT" default:"120s"`
}

type AgentConfig struct {
	BaseURL       string        `envconfig:"NEXUS_AGENT_BASE_URL" default:"http://localhost:8082"`
	ReadTimeout   time.Duration `envconfig:"NEXUS_AGENT_READ_TIMEOUT" default:"60s"`
	OverallTimeout time.Duration `envconfig:"NEXUS_AGENT_TOTAL_TIMEOUT" default:"120s"`
}

// ControlStoreConfig points at the external control/framework catalog
// neither Intake nor the Orchestrator owns (SPEC_FULL.md §4 "opaque
// collaborators").
type ControlStoreConfig struct {
	BaseURL string `envconfig:"NEXUS_CONTROLSTORE_BASE_URL" default:"http://localhost:8083"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
