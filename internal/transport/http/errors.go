package httptransport

import (
	"aliasmail/backend/internal/auth"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/service"
	"aliasmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 认证错误
	auth.ErrEmailExists:        "该邮箱已注册",
	auth.ErrInvalidCredentials: "邮箱或密码错误",
	auth.ErrUserInactive:       "账户已被禁用",
	auth.ErrPasswordBreached:   "该密码出现在已知的数据泄露中，请换一个密码",

	// 输入校验错误
	domain.ErrInvalidEmail:     "邮箱地址格式无效",
	domain.ErrEmailTooLong:     "邮箱地址过长",
	domain.ErrPasswordTooShort: "密码至少需要 8 个字符",
	domain.ErrPasswordTooLong:  "密码最多 72 个字符",

	// 邮箱生命周期错误
	service.ErrNotOwner:        "您不是该邮箱的所有者",
	service.ErrQuotaExceeded:   "邮箱数量已达套餐上限",
	service.ErrAlreadyVerified: "邮箱已验证，无需重复操作",
	service.ErrNotVerified:     "邮箱尚未验证",
	service.ErrAlreadyDefault:  "该邮箱已是默认邮箱",
	service.ErrDeleteDefault:   "默认邮箱不能删除，请先切换默认邮箱",
	service.ErrTransferToSelf:  "转移目标不能是被删除的邮箱",
	service.ErrInvalidToken:    "验证链接无效",
	service.ErrTokenExpired:    "验证链接已过期，请重新发送",

	// 存储层错误
	storage.ErrMailboxNotFound: "邮箱不存在",
	storage.ErrUserNotFound:    "用户不存在",
	storage.ErrEmailExists:     "该地址已被使用",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgAuthRequired   = "需要登录认证"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)
