package dao

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
)

const (
	// KeySize AES-256密钥长度
	KeySize = 32
)

// EmailAccount 发信账号模型
type EmailAccount struct {
	ID          int64  `gorm:"primaryKey;autoIncrement;comment:'账号ID'"`
	Email       string `gorm:"type:VARCHAR(255);NOT NULL;uniqueIndex:idx_email;comment:'邮箱地址，全局唯一'"`
	DisplayName string `gorm:"type:VARCHAR(128);comment:'显示名称'"`

	SMTPHost     string `gorm:"type:VARCHAR(255);NOT NULL;comment:'SMTP服务器地址'"`
	SMTPPort     int    `gorm:"type:INT;NOT NULL;DEFAULT:465;comment:'SMTP端口'"`
	SMTPUsername string `gorm:"type:VARCHAR(255);NOT NULL;comment:'SMTP用户名'"`
	SMTPPassword string `gorm:"type:VARCHAR(512);NOT NULL;comment:'SMTP密码，AES-GCM加密'"`
	UseTLS       bool   `gorm:"type:TINYINT(1);NOT NULL;DEFAULT:1;comment:'是否启用TLS'"`

	DailyLimit     int   `gorm:"type:INT;NOT NULL;DEFAULT:500;comment:'每日发送限额'"`
	DailySentCount int   `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'今日已发送数量'"`
	LastResetAt    int64 `gorm:"comment:'最后清零时间，毫秒'"`

	Priority int  `gorm:"type:INT;NOT NULL;DEFAULT:10;index:idx_active_priority,priority:2;comment:'优先级，数字越大越优先'"`
	IsActive bool `gorm:"type:TINYINT(1);NOT NULL;DEFAULT:1;index:idx_active_priority,priority:1;comment:'是否启用'"`

	FailureCount  int   `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'连续失败次数'"`
	LastFailureAt int64 `gorm:"comment:'最后失败时间，毫秒'"`

	Remark string `gorm:"type:VARCHAR(512);comment:'备注'"`
	Ctime  int64
	Utime  int64
}

// TableName 重命名表
func (EmailAccount) TableName() string {
	return "email_accounts"
}

type AccountDAO interface {
	// Create 创建发信账号，密码落库前加密
	Create(ctx context.Context, account EmailAccount) (EmailAccount, error)
	// Update 更新账号配置，密码为空时不更新密码
	Update(ctx context.Context, account EmailAccount) error
	// FindByID 根据ID查找账号，密码保持密文
	FindByID(ctx context.Context, id int64) (EmailAccount, error)
	// FindAvailable 查找所有可用账号，按优先级降序、今日发送量升序排列
	FindAvailable(ctx context.Context) ([]EmailAccount, error)
	List(ctx context.Context, offset, limit int) ([]EmailAccount, error)
	// GetCredential 解密指定账号的SMTP密码，仅在发送时调用
	GetCredential(ctx context.Context, id int64) (string, error)
	// IncrSentAndResetFailure 发送成功：今日发送量+1，连续失败清零
	IncrSentAndResetFailure(ctx context.Context, id int64) error
	// RecordFailure 发送失败：连续失败次数+1
	RecordFailure(ctx context.Context, id int64) error
	// ResetFailures 人工清零连续失败次数
	ResetFailures(ctx context.Context, id int64) error
	// ResetDailyCounts 每日配额清零，幂等，返回受影响行数
	ResetDailyCounts(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type accountDAO struct {
	db         *egorm.Component
	encryptKey []byte
}

func NewAccountDAO(db *egorm.Component, encryptKey string) AccountDAO {
	// 确保加密密钥长度为32字节
	key := make([]byte, KeySize)
	copy(key, encryptKey)
	return &accountDAO{
		db:         db,
		encryptKey: key,
	}
}

// encrypt 使用AES-GCM加密
func (d *accountDAO) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(d.encryptKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt 使用AES-GCM解密
func (d *accountDAO) decrypt(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(d.encryptKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext太短了")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertext = ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

func (d *accountDAO) Create(ctx context.Context, account EmailAccount) (EmailAccount, error) {
	now := time.Now().UnixMilli()
	account.Ctime, account.Utime = now, now

	encrypted, err := d.encrypt(account.SMTPPassword)
	if err != nil {
		return EmailAccount{}, err
	}
	account.SMTPPassword = encrypted

	if err := d.db.WithContext(ctx).Create(&account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return EmailAccount{}, errs.ErrAccountDuplicate
		}
		return EmailAccount{}, err
	}
	return account, nil
}

func (d *accountDAO) Update(ctx context.Context, account EmailAccount) error {
	updates := map[string]any{
		"display_name":  account.DisplayName,
		"smtp_host":     account.SMTPHost,
		"smtp_port":     account.SMTPPort,
		"smtp_username": account.SMTPUsername,
		"use_tls":       account.UseTLS,
		"daily_limit":   account.DailyLimit,
		"priority":      account.Priority,
		"remark":        account.Remark,
		"utime":         time.Now().UnixMilli(),
	}

	if account.SMTPPassword != "" {
		encrypted, err := d.encrypt(account.SMTPPassword)
		if err != nil {
			return err
		}
		updates["smtp_password"] = encrypted
	}

	res := d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("id = ?", account.ID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return errs.ErrAccountNotFound
	}
	return nil
}

func (d *accountDAO) FindByID(ctx context.Context, id int64) (EmailAccount, error) {
	var res EmailAccount
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EmailAccount{}, errs.ErrAccountNotFound
	}
	return res, err
}

func (d *accountDAO) FindAvailable(ctx context.Context) ([]EmailAccount, error) {
	var res []EmailAccount
	err := d.db.WithContext(ctx).
		Where("is_active = ? AND daily_sent_count < daily_limit AND failure_count < ?",
			true, domain.AccountMaxFailureStreak).
		Order("priority DESC, daily_sent_count ASC").
		Find(&res).Error
	return res, err
}

func (d *accountDAO) List(ctx context.Context, offset, limit int) ([]EmailAccount, error) {
	var res []EmailAccount
	err := d.db.WithContext(ctx).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *accountDAO) GetCredential(ctx context.Context, id int64) (string, error) {
	account, err := d.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	plaintext, err := d.decrypt(account.SMTPPassword)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrCredentialDecrypt, err)
	}
	return plaintext, nil
}

func (d *accountDAO) IncrSentAndResetFailure(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"daily_sent_count": gorm.Expr("daily_sent_count + 1"),
			"failure_count":    0,
			"utime":            time.Now().UnixMilli(),
		}).Error
}

func (d *accountDAO) RecordFailure(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	return d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count":   gorm.Expr("failure_count + 1"),
			"last_failure_at": now,
			"utime":           now,
		}).Error
}

func (d *accountDAO) ResetFailures(ctx context.Context, id int64) error {
	res := d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failure_count": 0,
			"utime":         time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return errs.ErrAccountNotFound
	}
	return nil
}

func (d *accountDAO) ResetDailyCounts(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	// 所有启用账号一律清零并盖上 last_reset_at，重复执行结果不变
	res := d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("is_active = ?", true).
		Updates(map[string]any{
			"daily_sent_count": 0,
			"last_reset_at":    now,
			"utime":            now,
		})
	return res.RowsAffected, res.Error
}

func (d *accountDAO) SetActive(ctx context.Context, id int64, active bool) error {
	res := d.db.WithContext(ctx).Model(&EmailAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active": active,
			"utime":     time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return errs.ErrAccountNotFound
	}
	return nil
}
