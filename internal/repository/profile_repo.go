package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"txpipeline/internal/infrastructure/cache"
	"txpipeline/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// profileCacheTTL 档案缓存时长：参考数据变化很慢
const profileCacheTTL = 10 * time.Minute

// ProfileRepository 富化数据源
//
// 商户/客户档案存于 MySQL，上面挂一层 Redis 读穿透缓存。
// 档案缺失不是错误：返回"无额外风险"的默认值
// （本国商户 / LOW 评级 / STANDARD 客户 / 无历史均值）。
type ProfileRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
	homeCountry string
}

func NewProfileRepository(db *gorm.DB, redisClient *redis.Client, homeCountry string) *ProfileRepository {
	return &ProfileRepository{
		db:          db,
		redisClient: redisClient,
		homeCountry: homeCountry,
	}
}

// Lookup 查询一笔交易的富化数据
func (r *ProfileRepository) Lookup(ctx context.Context, merchantID, customerID string) (*model.EnrichmentData, error) {
	data := &model.EnrichmentData{
		MerchantCountry:    r.homeCountry,
		MerchantRiskRating: model.MerchantRatingLow,
		CustomerTier:       model.CustomerTierStandard,
	}

	merchant, err := r.getMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("查询商户档案失败: %w", err)
	}
	if merchant != nil {
		data.MerchantCountry = merchant.Country
		data.MerchantCategory = merchant.Category
		data.MerchantRiskRating = merchant.RiskRating
	}

	customer, err := r.getCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("查询客户档案失败: %w", err)
	}
	if customer != nil {
		data.CustomerTier = customer.Tier
		data.CustomerLifetimeValue = customer.LifetimeValue
		data.AvgTransactionAmount = customer.AvgTransactionAmount
	}

	return data, nil
}

func (r *ProfileRepository) getMerchant(ctx context.Context, merchantID string) (*model.MerchantProfile, error) {
	cacheKey := fmt.Sprintf("profile:merchant:%s", merchantID)

	var cached model.MerchantProfile
	if err := cache.GetJSON(ctx, r.redisClient, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		// 缓存故障降级直查数据库
		log.Printf("[ProfileRepository] 读商户缓存失败: merchantID=%s, err=%v", merchantID, err)
	}

	var profile model.MerchantProfile
	err := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := cache.SetJSON(ctx, r.redisClient, cacheKey, &profile, profileCacheTTL); err != nil {
		log.Printf("[ProfileRepository] 写商户缓存失败: merchantID=%s, err=%v", merchantID, err)
	}
	return &profile, nil
}

func (r *ProfileRepository) getCustomer(ctx context.Context, customerID string) (*model.CustomerProfile, error) {
	cacheKey := fmt.Sprintf("profile:customer:%s", customerID)

	var cached model.CustomerProfile
	if err := cache.GetJSON(ctx, r.redisClient, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("[ProfileRepository] 读客户缓存失败: customerID=%s, err=%v", customerID, err)
	}

	var profile model.CustomerProfile
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := cache.SetJSON(ctx, r.redisClient, cacheKey, &profile, profileCacheTTL); err != nil {
		log.Printf("[ProfileRepository] 写客户缓存失败: customerID=%s, err=%v", customerID, err)
	}
	return &profile, nil
}
