package model

import (
	"time"
)

// ============================================================================
// 富化参考数据
// ============================================================================

// 商户风险评级
const (
	MerchantRatingLow    = "LOW"
	MerchantRatingMedium = "MEDIUM"
	MerchantRatingHigh   = "HIGH"
)

// 客户等级
const (
	CustomerTierNew      = "NEW"
	CustomerTierStandard = "STANDARD"
	CustomerTierPremium  = "PREMIUM"
)

// MerchantProfile 商户档案表（外部参考数据的本地镜像）
type MerchantProfile struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"merchant_id"`
	Country    string    `gorm:"type:varchar(8);not null" json:"country"`
	Category   string    `gorm:"type:varchar(32)" json:"category"`
	RiskRating string    `gorm:"type:varchar(16);not null" json:"risk_rating"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MerchantProfile) TableName() string {
	return "merchant_profile"
}

// CustomerProfile 客户档案表
type CustomerProfile struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"customer_id"`
	Tier                 string    `gorm:"type:varchar(16);not null" json:"tier"`
	LifetimeValue        float64   `gorm:"not null;default:0" json:"lifetime_value"`
	AvgTransactionAmount float64   `gorm:"not null;default:0" json:"avg_transaction_amount"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerProfile) TableName() string {
	return "customer_profile"
}

// EnrichmentData 富化查询结果
// 查不到档案时返回默认值（本国/低评级/普通客户），不报错
type EnrichmentData struct {
	MerchantCountry       string  `json:"merchant_country"`
	MerchantCategory      string  `json:"merchant_category"`
	MerchantRiskRating    string  `json:"merchant_risk_rating"`
	CustomerTier          string  `json:"customer_tier"`
	CustomerLifetimeValue float64 `json:"customer_lifetime_value"`
	AvgTransactionAmount  float64 `json:"avg_transaction_amount"`
}
