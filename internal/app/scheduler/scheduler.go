package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"unifarm-app/internal/app/farming"
	"unifarm-app/internal/app/referral"
	"unifarm-app/internal/model"
	"unifarm-app/internal/pkg/generr"
)

// DepositSource lists the deposits a tick must visit and refetches one after
// a checkpoint conflict.
type DepositSource interface {
	ListActive() ([]model.FarmingDeposit, error)
	GetByID(id int64) (model.FarmingDeposit, error)
}

type UserSource interface {
	GetByID(id int64) (model.User, error)
}

// Settler couples the reward credit with the checkpoint advance; it returns
// generr.ErrConcurrentUpdate when another settle won the race.
type Settler interface {
	SettleFarming(dep model.FarmingDeposit, reward decimal.Decimal, checkpoint time.Time) (model.Transaction, error)
}

type Distributor interface {
	Distribute(originUserID int64, reward decimal.Decimal, currency model.Currency, origin string) []referral.LevelResult
}

// Scheduler periodically accrues farming income for every active deposit and
// feeds each reward into the referral cascade. One instance per process,
// owned by the composition root.
type Scheduler struct {
	deposits DepositSource
	users    UserSource
	led      Settler
	dist     Distributor

	schedule   string
	minElapsed time.Duration
	now        func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	inFlight bool
	stopping int32
	wg       sync.WaitGroup
}

func New(deposits DepositSource, users UserSource, led Settler, dist Distributor,
	schedule string, minElapsed time.Duration) *Scheduler {

	return &Scheduler{
		deposits:   deposits,
		users:      users,
		led:        led,
		dist:       dist,
		schedule:   schedule,
		minElapsed: minElapsed,
		now:        time.Now,
	}
}

// Start registers the tick on the configured cron schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.stopping) == 1 {
		return errors.New("scheduler stopped")
	}
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	c := cron.New()
	if err := c.AddFunc(s.schedule, s.Tick); err != nil {
		return errors.Wrap(err, "bad farm schedule")
	}
	c.Start()
	s.cron = c
	log.Infof("farming scheduler started, schedule %q", s.schedule)
	return nil
}

// Stop is final: it halts the timer, waits for an in-flight tick and turns
// every later tick into a no-op. The in-flight tick finishes the deposit it
// is on, then exits; untouched deposits keep their checkpoint and are picked
// up whenever accrual runs next.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	atomic.StoreInt32(&s.stopping, 1)
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Info("farming scheduler stopped")
}

// Tick runs one accrual pass. Admission happens under the same lock Stop
// takes, so a tick either registers with the wait group before Stop starts
// waiting or observes the stop flag and backs off; overlapping ticks no-op
// on the in-flight guard even if a pass overruns the cron period.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if atomic.LoadInt32(&s.stopping) == 1 {
		s.mu.Unlock()
		return
	}
	if s.inFlight {
		s.mu.Unlock()
		log.Warn("accrual tick still running, skipping this one")
		return
	}
	s.inFlight = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	t := s.now()
	deposits, err := s.deposits.ListActive()
	if err != nil {
		log.Errorf("err: %+v", errors.WithMessage(err, "list active deposits"))
		return
	}

	var settled int
	for _, dep := range deposits {
		if atomic.LoadInt32(&s.stopping) == 1 {
			log.Info("stop requested, ending tick early")
			break
		}
		if err := s.processDeposit(dep); err != nil {
			// This deposit's checkpoint did not move, the next tick retries
			// it; other deposits are unaffected.
			log.Errorf("err: %+v", errors.WithMessagef(err, "accrue deposit %d user %d", dep.ID, dep.UserID))
			continue
		}
		settled++
	}
	log.Infof("accrual tick over, %d/%d deposits settled, cost time: %v", settled, len(deposits), time.Since(t))
}

func (s *Scheduler) processDeposit(dep model.FarmingDeposit) error {
	err := s.settleOnce(dep)
	if !errors.Is(err, generr.ErrConcurrentUpdate) {
		return err
	}
	// Exactly one retry against the fresh checkpoint, then defer to the
	// next tick.
	fresh, err := s.deposits.GetByID(dep.ID)
	if err != nil {
		return err
	}
	if !fresh.Active {
		return nil
	}
	err = s.settleOnce(fresh)
	if errors.Is(err, generr.ErrConcurrentUpdate) {
		log.Infof("deposit %d still contended, deferring to next tick", dep.ID)
		return nil
	}
	return err
}

func (s *Scheduler) settleOnce(dep model.FarmingDeposit) error {
	now := s.now()
	if now.Sub(dep.LastAccrualAt) < s.minElapsed {
		return nil
	}
	u, err := s.users.GetByID(dep.UserID)
	if err != nil {
		return err
	}
	reward, checkpoint := farming.Accrue(dep, farming.EffectiveRate(dep, u, now), now)
	if reward.IsZero() {
		// Leave the checkpoint where it is so the interval keeps
		// accumulating instead of being rounded away.
		return nil
	}
	if _, err = s.led.SettleFarming(dep, reward, checkpoint); err != nil {
		return err
	}
	s.dist.Distribute(dep.UserID, reward, dep.Currency, "farming")
	return nil
}
