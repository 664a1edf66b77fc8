package models

import "time"

// RunMetric is one named value recorded for a run, optionally per step.
type RunMetric struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunUID    string  `gorm:"column:run_uid;type:varchar(64);not null;index:,composite:run_name" json:"run_uid"`
	Name      string  `gorm:"type:varchar(255);not null;index:,composite:run_name" json:"name"`
	Value     float64 `gorm:"not null" json:"value"`
	Step      *int    `json:"step,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
	DateTS    string  `gorm:"column:date_ts;type:varchar(32)" json:"date_ts"`
}

func (RunMetric) TableName() string { return "run_metrics" }

type RunParameter struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	RunUID string `gorm:"column:run_uid;type:varchar(64);not null;index:,composite:run_name" json:"run_uid"`
	Name   string `gorm:"type:varchar(255);not null;index:,composite:run_name" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
	DateTS string `gorm:"column:date_ts;type:varchar(32)" json:"date_ts"`
}

func (RunParameter) TableName() string { return "run_parameters" }

// HardwareMetrics is one host utilisation sample taken during a run.
type HardwareMetrics struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	RunUID                string    `gorm:"column:run_uid;type:varchar(64);not null;index" json:"run_uid"`
	CreatedAt             time.Time `json:"created_at"`
	CPUPercentUtilization float64   `gorm:"column:cpu_percent_utilization" json:"cpu_percent_utilization"`
	CPUPercentPerCore     FloatList `gorm:"column:cpu_percent_per_core" json:"cpu_percent_per_core,omitempty"`
	ComputeOverall        *float64  `json:"compute_overall,omitempty"`
	ComputeUtilized       *float64  `json:"compute_utilized,omitempty"`
	LoadAvg               float64   `json:"load_avg"`
	SysRAMTotal           int64     `gorm:"column:sys_ram_total" json:"sys_ram_total"`
	SysRAMUsed            int64     `gorm:"column:sys_ram_used" json:"sys_ram_used"`
	SysRAMAvailable       int64     `gorm:"column:sys_ram_available" json:"sys_ram_available"`
	SysRAMPercentUsed     float64   `gorm:"column:sys_ram_percent_used" json:"sys_ram_percent_used"`
	SysSwapTotal          *int64    `json:"sys_swap_total,omitempty"`
	SysSwapUsed           *int64    `json:"sys_swap_used,omitempty"`
	SysSwapFree           *int64    `json:"sys_swap_free,omitempty"`
	SysSwapPercent        *float64  `json:"sys_swap_percent,omitempty"`
	BytesRecv             int64     `json:"bytes_recv"`
	BytesSent             int64     `json:"bytes_sent"`
	GPUPercentUtilization *float64  `gorm:"column:gpu_percent_utilization" json:"gpu_percent_utilization,omitempty"`
	GPUPercentPerCore     FloatList `gorm:"column:gpu_percent_per_core" json:"gpu_percent_per_core,omitempty"`
}

func (HardwareMetrics) TableName() string { return "run_hardware_metrics" }
