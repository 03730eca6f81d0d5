package domain

import "time"

// Alias 表示邮箱拥有的转发别名。
// 发送到别名的邮件会转发到其所属邮箱。别名引擎本身在别处实现，
// 这里只关心删除邮箱时别名的归属转移。
type Alias struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID string    `json:"mailboxId" gorm:"type:varchar(36);index;not null"` // 所属邮箱ID
	Address   string    `json:"address" gorm:"type:varchar(255);index"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt"`
}
