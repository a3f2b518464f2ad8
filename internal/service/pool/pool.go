package pool

import (
	"context"
	"fmt"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"gitee.com/flycash/message-platform/internal/repository"
)

// Service 发信账号池。
// 配额是软上限：判定与发送之间不加锁，并发高峰时允许少量超发，
// 换取不在发送链路上引入分布式锁
type Service interface {
	// Acquire 选出当前最优可用账号：优先级降序，同优先级按今日发送量升序。
	// 无可用账号返回 errs.ErrNoAvailableAccount
	Acquire(ctx context.Context) (domain.EmailAccount, error)
	// Credential 解密账号SMTP密码，仅发送时调用
	Credential(ctx context.Context, accountID int64) (string, error)
	// RecordSuccess 发送成功：今日发送量+1，连续失败清零
	RecordSuccess(ctx context.Context, accountID int64) error
	// RecordFailure 发送失败：连续失败+1，达到阈值后账号自动退出轮换
	RecordFailure(ctx context.Context, accountID int64) error

	// 账号管理，仅管理员

	CreateAccount(ctx context.Context, actor domain.Actor, account domain.EmailAccount) (domain.EmailAccount, error)
	UpdateAccount(ctx context.Context, actor domain.Actor, account domain.EmailAccount) error
	ListAccounts(ctx context.Context, actor domain.Actor, offset, limit int) ([]domain.EmailAccount, error)
	SetAccountActive(ctx context.Context, actor domain.Actor, accountID int64, active bool) error
	// ResetAccountFailures 人工清零连续失败计数，恢复账号轮换资格
	ResetAccountFailures(ctx context.Context, actor domain.Actor, accountID int64) error

	// ResetDailyCounts 每日配额清零，幂等
	ResetDailyCounts(ctx context.Context) (int64, error)
}

type service struct {
	repo repository.AccountRepository
}

// NewService 创建账号池实例
func NewService(repo repository.AccountRepository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) Acquire(ctx context.Context) (domain.EmailAccount, error) {
	accounts, err := s.repo.FindAvailable(ctx)
	if err != nil {
		return domain.EmailAccount{}, err
	}
	// DAO 已按可用性过滤并排序，这里再校验一次，防止读到并发修改的边缘数据
	for i := range accounts {
		if accounts[i].IsAvailable() {
			return accounts[i], nil
		}
	}
	return domain.EmailAccount{}, fmt.Errorf("%w", errs.ErrNoAvailableAccount)
}

func (s *service) Credential(ctx context.Context, accountID int64) (string, error) {
	return s.repo.GetCredential(ctx, accountID)
}

func (s *service) RecordSuccess(ctx context.Context, accountID int64) error {
	return s.repo.IncrSentAndResetFailure(ctx, accountID)
}

func (s *service) RecordFailure(ctx context.Context, accountID int64) error {
	return s.repo.RecordFailure(ctx, accountID)
}

func (s *service) CreateAccount(ctx context.Context, actor domain.Actor, account domain.EmailAccount) (domain.EmailAccount, error) {
	if !actor.IsAdmin() {
		return domain.EmailAccount{}, fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	if account.Email == "" || account.SMTPHost == "" || account.SMTPUsername == "" || account.SMTPPassword == "" {
		return domain.EmailAccount{}, fmt.Errorf("%w: 邮箱、SMTP地址、用户名、密码均不能为空", errs.ErrInvalidParameter)
	}
	if account.DailyLimit <= 0 {
		account.DailyLimit = domain.DefaultDailyLimit
	}
	if account.Priority == 0 {
		account.Priority = domain.DefaultAccountPriority
	}
	account.IsActive = true
	return s.repo.Create(ctx, account)
}

func (s *service) UpdateAccount(ctx context.Context, actor domain.Actor, account domain.EmailAccount) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.Update(ctx, account)
}

func (s *service) ListAccounts(ctx context.Context, actor domain.Actor, offset, limit int) ([]domain.EmailAccount, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *service) SetAccountActive(ctx context.Context, actor domain.Actor, accountID int64, active bool) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.SetActive(ctx, accountID, active)
}

func (s *service) ResetAccountFailures(ctx context.Context, actor domain.Actor, accountID int64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.ResetFailures(ctx, accountID)
}

func (s *service) ResetDailyCounts(ctx context.Context) (int64, error) {
	return s.repo.ResetDailyCounts(ctx)
}
