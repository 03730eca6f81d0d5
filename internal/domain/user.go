package domain

import "time"

// UserTier 用户套餐等级
type UserTier string

const (
	TierFree    UserTier = "free"
	TierPremium UserTier = "premium"
)

// User 表示别名邮件服务的注册用户
//
// DefaultMailboxID 指向用户当前的默认邮箱：账户初始化完成后
// 任意时刻必须恰好指向一个已验证邮箱，新别名默认转发到该邮箱。
type User struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email            string    `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	PasswordHash     string    `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Tier             UserTier  `json:"tier" gorm:"type:varchar(20);default:'free';index"`
	DefaultMailboxID string    `json:"defaultMailboxId" gorm:"type:varchar(36)"`
	IsActive         bool      `json:"isActive" gorm:"default:true"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsPremium 判断用户是否为付费用户
func (u *User) IsPremium() bool {
	return u.Tier == TierPremium
}

// Quota 用户配额
type Quota struct {
	UserID       string `json:"userId"`
	MaxMailboxes int    `json:"maxMailboxes"`
}

// DefaultQuotas 返回不同等级的默认配额
//
// 免费用户只拥有注册时创建的账户邮箱，付费用户可以额外绑定邮箱。
func DefaultQuotas(tier UserTier) Quota {
	switch tier {
	case TierPremium:
		return Quota{
			MaxMailboxes: 20,
		}
	default: // TierFree
		return Quota{
			MaxMailboxes: 1,
		}
	}
}
