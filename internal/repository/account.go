package repository

import (
	"context"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// AccountRepository 发信账号仓储接口，密码字段在DAO层加解密，仓储内外均为密文
type AccountRepository interface {
	Create(ctx context.Context, account domain.EmailAccount) (domain.EmailAccount, error)
	Update(ctx context.Context, account domain.EmailAccount) error
	GetByID(ctx context.Context, id int64) (domain.EmailAccount, error)
	// FindAvailable 按优先级降序、今日发送量升序返回所有可用账号
	FindAvailable(ctx context.Context) ([]domain.EmailAccount, error)
	List(ctx context.Context, offset, limit int) ([]domain.EmailAccount, error)

	// GetCredential 解密SMTP密码，仅发送时调用
	GetCredential(ctx context.Context, id int64) (string, error)

	IncrSentAndResetFailure(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64) error
	ResetFailures(ctx context.Context, id int64) error
	ResetDailyCounts(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type accountRepository struct {
	dao dao.AccountDAO
}

// NewAccountRepository 创建仓储实例
func NewAccountRepository(d dao.AccountDAO) AccountRepository {
	return &accountRepository{
		dao: d,
	}
}

func (r *accountRepository) Create(ctx context.Context, account domain.EmailAccount) (domain.EmailAccount, error) {
	created, err := r.dao.Create(ctx, r.toEntity(account))
	if err != nil {
		return domain.EmailAccount{}, err
	}
	return r.toDomain(created), nil
}

func (r *accountRepository) Update(ctx context.Context, account domain.EmailAccount) error {
	return r.dao.Update(ctx, r.toEntity(account))
}

func (r *accountRepository) GetByID(ctx context.Context, id int64) (domain.EmailAccount, error) {
	account, err := r.dao.FindByID(ctx, id)
	if err != nil {
		return domain.EmailAccount{}, err
	}
	return r.toDomain(account), nil
}

func (r *accountRepository) FindAvailable(ctx context.Context) ([]domain.EmailAccount, error) {
	accounts, err := r.dao.FindAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return slice.Map(accounts, func(_ int, src dao.EmailAccount) domain.EmailAccount {
		return r.toDomain(src)
	}), nil
}

func (r *accountRepository) List(ctx context.Context, offset, limit int) ([]domain.EmailAccount, error) {
	accounts, err := r.dao.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return slice.Map(accounts, func(_ int, src dao.EmailAccount) domain.EmailAccount {
		return r.toDomain(src)
	}), nil
}

func (r *accountRepository) GetCredential(ctx context.Context, id int64) (string, error) {
	return r.dao.GetCredential(ctx, id)
}

func (r *accountRepository) IncrSentAndResetFailure(ctx context.Context, id int64) error {
	return r.dao.IncrSentAndResetFailure(ctx, id)
}

func (r *accountRepository) RecordFailure(ctx context.Context, id int64) error {
	return r.dao.RecordFailure(ctx, id)
}

func (r *accountRepository) ResetFailures(ctx context.Context, id int64) error {
	return r.dao.ResetFailures(ctx, id)
}

func (r *accountRepository) ResetDailyCounts(ctx context.Context) (int64, error) {
	return r.dao.ResetDailyCounts(ctx)
}

func (r *accountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.dao.SetActive(ctx, id, active)
}

func (r *accountRepository) toEntity(a domain.EmailAccount) dao.EmailAccount {
	return dao.EmailAccount{
		ID:             a.ID,
		Email:          a.Email,
		DisplayName:    a.DisplayName,
		SMTPHost:       a.SMTPHost,
		SMTPPort:       a.SMTPPort,
		SMTPUsername:   a.SMTPUsername,
		SMTPPassword:   a.SMTPPassword,
		UseTLS:         a.UseTLS,
		DailyLimit:     a.DailyLimit,
		DailySentCount: a.DailySentCount,
		LastResetAt:    a.LastResetAt,
		Priority:       a.Priority,
		IsActive:       a.IsActive,
		FailureCount:   a.FailureCount,
		LastFailureAt:  a.LastFailureAt,
		Remark:         a.Remark,
		Ctime:          a.Ctime,
		Utime:          a.Utime,
	}
}

func (r *accountRepository) toDomain(a dao.EmailAccount) domain.EmailAccount {
	return domain.EmailAccount{
		ID:             a.ID,
		Email:          a.Email,
		DisplayName:    a.DisplayName,
		SMTPHost:       a.SMTPHost,
		SMTPPort:       a.SMTPPort,
		SMTPUsername:   a.SMTPUsername,
		SMTPPassword:   a.SMTPPassword,
		UseTLS:         a.UseTLS,
		DailyLimit:     a.DailyLimit,
		DailySentCount: a.DailySentCount,
		LastResetAt:    a.LastResetAt,
		Priority:       a.Priority,
		IsActive:       a.IsActive,
		FailureCount:   a.FailureCount,
		LastFailureAt:  a.LastFailureAt,
		Remark:         a.Remark,
		Ctime:          a.Ctime,
		Utime:          a.Utime,
	}
}
