// Package entity builds the entity records published for the vehicle.
// Field names follow the Lattice entity JSON encoding.
package entity

import "time"

const (
	TemplateAsset       = "TEMPLATE_ASSET"
	DispositionFriendly = "DISPOSITION_FRIENDLY"
	EnvironmentAir      = "ENVIRONMENT_AIR"
	ConnectionOnline    = "CONNECTION_STATUS_ONLINE"
	HealthHealthy       = "HEALTH_STATUS_HEALTHY"
	DataTypeTelemetry   = "telemetry"
)

// DefaultTaskCatalog lists the tasks the vehicle advertises.
var DefaultTaskCatalog = []string{
	"type.googleapis.com/anduril.tasks.v2.VisualId",
	"type.googleapis.com/anduril.tasks.v2.Monitor",
	"type.googleapis.com/anduril.tasks.v2.Investigate",
}

// Update is one assertion of the vehicle's state.
type Update struct {
	EntityID    string      `json:"entityId"`
	Description string      `json:"description,omitempty"`
	IsLive      bool        `json:"isLive"`
	CreatedTime time.Time   `json:"createdTime"`
	ExpiryTime  time.Time   `json:"expiryTime"`
	Aliases     Aliases     `json:"aliases"`
	Ontology    Ontology    `json:"ontology"`
	MilView     MilView     `json:"milView"`
	Location    Location    `json:"location"`
	Provenance  Provenance  `json:"provenance"`
	Health      Health      `json:"health"`
	TaskCatalog TaskCatalog `json:"taskCatalog"`
}

type Aliases struct {
	Name string `json:"name"`
}

type Ontology struct {
	Template     string `json:"template"`
	PlatformType string `json:"platformType,omitempty"`
}

type MilView struct {
	Disposition string `json:"disposition"`
	Environment string `json:"environment"`
}

type Location struct {
	Position    Position   `json:"position"`
	VelocityENU ENU        `json:"velocityEnu"`
	AttitudeENU Quaternion `json:"attitudeEnu"`
}

type Position struct {
	LatitudeDegrees   float64 `json:"latitudeDegrees"`
	LongitudeDegrees  float64 `json:"longitudeDegrees"`
	AltitudeHAEMeters float64 `json:"altitudeHaeMeters"`
	AltitudeAGLMeters float64 `json:"altitudeAglMeters"`
}

type ENU struct {
	E float64 `json:"e"`
	N float64 `json:"n"`
	U float64 `json:"u"`
}

type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Provenance struct {
	IntegrationName  string    `json:"integrationName"`
	DataType         string    `json:"dataType"`
	SourceUpdateTime time.Time `json:"sourceUpdateTime"`
}

type Health struct {
	ConnectionStatus string    `json:"connectionStatus"`
	HealthStatus     string    `json:"healthStatus"`
	UpdateTime       time.Time `json:"updateTime"`
}

type TaskCatalog struct {
	TaskDefinitions []TaskDefinition `json:"taskDefinitions"`
}

type TaskDefinition struct {
	TaskSpecificationURL string `json:"taskSpecificationUrl"`
}
