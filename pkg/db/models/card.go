package models

import (
	"fmt"
	"strings"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/version"
)

// RegistryType names one card table.
type RegistryType string

const (
	RegistryData     RegistryType = "data"
	RegistryModel    RegistryType = "model"
	RegistryRun      RegistryType = "run"
	RegistryAudit    RegistryType = "audit"
	RegistryPipeline RegistryType = "pipeline"
	RegistryProject  RegistryType = "project"
)

var RegistryTypes = []RegistryType{
	RegistryData,
	RegistryModel,
	RegistryRun,
	RegistryAudit,
	RegistryPipeline,
	RegistryProject,
}

func ParseRegistryType(s string) (RegistryType, error) {
	t := RegistryType(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "card"))
	for _, known := range RegistryTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown registry '%s': %w", s, errs.ErrInvalidArgument)
}

// Table returns the SQL table backing the registry.
func (t RegistryType) Table() string {
	return string(t) + "_registry"
}

// Reference points from one card to another card by uid.
type Reference struct {
	Registry RegistryType
	UID      string
}

// Card is implemented by every card table row.
type Card interface {
	TableName() string
	Registry() RegistryType
	Base() *CardBase
	// References lists the non-empty uids this card links to.
	References() []Reference
}

// CardBase holds the columns shared by every card table. The version is
// stored both as the display string and as its parsed components so it
// can be ordered numerically.
type CardBase struct {
	UID           string  `gorm:"column:uid;primaryKey;type:varchar(64)" json:"uid"`
	Date          string  `gorm:"type:varchar(32);not null" json:"date"`
	Timestamp     int64   `gorm:"not null;index" json:"timestamp"`
	AppEnv        string  `gorm:"type:varchar(64);default:'development'" json:"app_env"`
	Name          string  `gorm:"type:varchar(255);not null;uniqueIndex:,composite:version" json:"name"`
	Repository    string  `gorm:"type:varchar(255);not null;uniqueIndex:,composite:version" json:"repository"`
	Major         uint64  `gorm:"not null" json:"major"`
	Minor         uint64  `gorm:"not null" json:"minor"`
	Patch         uint64  `gorm:"not null" json:"patch"`
	PreTag        *string `gorm:"type:varchar(255)" json:"pre_tag,omitempty"`
	BuildTag      *string `gorm:"type:varchar(255)" json:"build_tag,omitempty"`
	Version       string  `gorm:"type:varchar(255);not null;uniqueIndex:,composite:version" json:"version"`
	Contact       string  `gorm:"type:varchar(255)" json:"contact"`
	Tags          JSONMap `json:"tags"`
	InterfaceType string  `gorm:"type:varchar(64)" json:"interface_type"`
}

func (b *CardBase) Base() *CardBase {
	return b
}

// ParsedVersion rebuilds the version from its stored components.
func (b *CardBase) ParsedVersion() version.Version {
	v := version.Version{Major: b.Major, Minor: b.Minor, Patch: b.Patch}
	if b.PreTag != nil {
		v.Pre = *b.PreTag
	}
	if b.BuildTag != nil {
		v.Build = *b.BuildTag
	}
	return v
}

// SetVersion writes v into both the string and component columns.
func (b *CardBase) SetVersion(v version.Version) {
	b.Version = v.String()
	b.Major, b.Minor, b.Patch = v.Major, v.Minor, v.Patch
	b.PreTag, b.BuildTag = nil, nil
	if v.Pre != "" {
		pre := v.Pre
		b.PreTag = &pre
	}
	if v.Build != "" {
		build := v.Build
		b.BuildTag = &build
	}
}

type DataCard struct {
	CardBase
	DataType        string `gorm:"type:varchar(64)" json:"data_type"`
	RunCardUID      string `gorm:"column:runcard_uid;type:varchar(64)" json:"runcard_uid"`
	PipelineCardUID string `gorm:"column:pipelinecard_uid;type:varchar(64)" json:"pipelinecard_uid"`
	AuditCardUID    string `gorm:"column:auditcard_uid;type:varchar(64)" json:"auditcard_uid"`
}

func (DataCard) TableName() string { return RegistryData.Table() }

func (DataCard) Registry() RegistryType { return RegistryData }

// References is empty: the links on a data card point back at cards that
// are registered after it and are set through UpdateCard.
func (c *DataCard) References() []Reference {
	return nil
}

type ModelCard struct {
	CardBase
	DataCardUID     string `gorm:"column:datacard_uid;type:varchar(64)" json:"datacard_uid"`
	SampleDataType  string `gorm:"type:varchar(64)" json:"sample_data_type"`
	ModelType       string `gorm:"type:varchar(64)" json:"model_type"`
	TaskType        string `gorm:"type:varchar(64)" json:"task_type"`
	RunCardUID      string `gorm:"column:runcard_uid;type:varchar(64)" json:"runcard_uid"`
	PipelineCardUID string `gorm:"column:pipelinecard_uid;type:varchar(64)" json:"pipelinecard_uid"`
	AuditCardUID    string `gorm:"column:auditcard_uid;type:varchar(64)" json:"auditcard_uid"`
}

func (ModelCard) TableName() string { return RegistryModel.Table() }

func (ModelCard) Registry() RegistryType { return RegistryModel }

func (c *ModelCard) References() []Reference {
	return references(RegistryData, c.DataCardUID)
}

type RunCard struct {
	CardBase
	DataCardUIDs       StringList `gorm:"column:datacard_uids" json:"datacard_uids"`
	ModelCardUIDs      StringList `gorm:"column:modelcard_uids" json:"modelcard_uids"`
	PipelineCardUID    string     `gorm:"column:pipelinecard_uid;type:varchar(64)" json:"pipelinecard_uid"`
	Project            string     `gorm:"type:varchar(255)" json:"project"`
	ArtifactURIs       JSONMap    `gorm:"column:artifact_uris" json:"artifact_uris"`
	ComputeEnvironment JSONMap    `json:"compute_environment"`
}

func (RunCard) TableName() string { return RegistryRun.Table() }

func (RunCard) Registry() RegistryType { return RegistryRun }

func (c *RunCard) References() []Reference {
	refs := references(RegistryData, c.DataCardUIDs...)
	refs = append(refs, references(RegistryModel, c.ModelCardUIDs...)...)
	return append(refs, references(RegistryPipeline, c.PipelineCardUID)...)
}

type AuditCard struct {
	CardBase
	Approved      bool       `gorm:"not null;default:false" json:"approved"`
	DataCardUIDs  StringList `gorm:"column:datacard_uids" json:"datacard_uids"`
	ModelCardUIDs StringList `gorm:"column:modelcard_uids" json:"modelcard_uids"`
	RunCardUIDs   StringList `gorm:"column:runcard_uids" json:"runcard_uids"`
}

func (AuditCard) TableName() string { return RegistryAudit.Table() }

func (AuditCard) Registry() RegistryType { return RegistryAudit }

func (c *AuditCard) References() []Reference {
	return linkedSets(c.DataCardUIDs, c.ModelCardUIDs, c.RunCardUIDs)
}

type PipelineCard struct {
	CardBase
	PipelineCodeURI string     `gorm:"type:varchar(1024)" json:"pipeline_code_uri"`
	DataCardUIDs    StringList `gorm:"column:datacard_uids" json:"datacard_uids"`
	ModelCardUIDs   StringList `gorm:"column:modelcard_uids" json:"modelcard_uids"`
	RunCardUIDs     StringList `gorm:"column:runcard_uids" json:"runcard_uids"`
}

func (PipelineCard) TableName() string { return RegistryPipeline.Table() }

func (PipelineCard) Registry() RegistryType { return RegistryPipeline }

func (c *PipelineCard) References() []Reference {
	return linkedSets(c.DataCardUIDs, c.ModelCardUIDs, c.RunCardUIDs)
}

// ProjectCard groups cards under a numeric project id shared by every
// version of the same (name, repository).
type ProjectCard struct {
	CardBase
	ProjectID int `gorm:"not null;index" json:"project_id"`
}

func (ProjectCard) TableName() string { return RegistryProject.Table() }

func (ProjectCard) Registry() RegistryType { return RegistryProject }

func (c *ProjectCard) References() []Reference {
	return nil
}

// NewCard returns an empty card for t.
func NewCard(t RegistryType) (Card, error) {
	switch t {
	case RegistryData:
		return &DataCard{}, nil
	case RegistryModel:
		return &ModelCard{}, nil
	case RegistryRun:
		return &RunCard{}, nil
	case RegistryAudit:
		return &AuditCard{}, nil
	case RegistryPipeline:
		return &PipelineCard{}, nil
	case RegistryProject:
		return &ProjectCard{}, nil
	default:
		return nil, fmt.Errorf("unknown registry '%s': %w", t, errs.ErrInvalidArgument)
	}
}

// AllCards lists one value of every card table for migrations.
func AllCards() []any {
	return []any{
		&DataCard{},
		&ModelCard{},
		&RunCard{},
		&AuditCard{},
		&PipelineCard{},
		&ProjectCard{},
	}
}

// Links names the columns UpdateCard may set on each registry and the
// registry each one points at.
var Links = map[RegistryType]map[string]RegistryType{
	RegistryData: {
		"runcard_uid":      RegistryRun,
		"pipelinecard_uid": RegistryPipeline,
		"auditcard_uid":    RegistryAudit,
	},
	RegistryModel: {
		"runcard_uid":      RegistryRun,
		"pipelinecard_uid": RegistryPipeline,
		"auditcard_uid":    RegistryAudit,
	},
}

func references(t RegistryType, uids ...string) []Reference {
	var refs []Reference
	for _, uid := range uids {
		if uid != "" {
			refs = append(refs, Reference{Registry: t, UID: uid})
		}
	}
	return refs
}

func linkedSets(data, model, run []string) []Reference {
	refs := references(RegistryData, data...)
	refs = append(refs, references(RegistryModel, model...)...)
	return append(refs, references(RegistryRun, run...)...)
}
