package domain

import "time"

// Mailbox 表示用户绑定的收件邮箱。
//
// 邮箱创建后处于未验证状态，通过邮件回路中的签名令牌完成验证；
// 只有已验证的邮箱才能被提升为默认邮箱。删除为异步操作：
// 先入队 delete_mailbox 任务，由 worker 在一个事务内完成
// 别名转移与删除。
type Mailbox struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	Verified  bool      `json:"verified" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
}
