package system

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Trading modes. The mode is process-wide: live and demo select the
// order path, paused halts all new submissions.
const (
	ModeLive   = "live"
	ModeDemo   = "demo"
	ModePaused = "paused"
)

// ErrInvalidMode rejects mode switches outside live/demo.
var ErrInvalidMode = errors.New("invalid mode, use 'live' or 'demo'")

// State is the single-row system state: current mode and the
// admin-settable force-resume flag consumed by the guard.
type State struct {
	gorm.Model  `json:"-"`
	Mode        string `json:"mode"`
	ForceResume bool   `json:"force_resume"`
}

// PausedInfo records why and when the guard paused trading.
type PausedInfo struct {
	gorm.Model `json:"-"`
	Reason     string    `json:"reason"`
	By         string    `json:"by"`
	AccountID  string    `json:"account_id"`
	PnL        float64   `json:"pnl"`
	Limit      float64   `json:"limit"`
	PausedAt   time.Time `json:"paused_at"`
}

// GuardOverrides are optional per-deployment guard settings stored in
// the database; zero-valued fields fall back to the built-in defaults.
type GuardOverrides struct {
	gorm.Model    `json:"-"`
	SoftPct       float64 `json:"soft_pct"`
	HardPct       float64 `json:"hard_pct"`
	MinTrades     int     `json:"min_trades"`
	AutoResumeSec int     `json:"auto_resume_sec"`
}

// Service owns system-state access. The guard is the only writer of
// the paused state; everything else reads.
type Service struct {
	db *gorm.DB
}

// NewService creates the system-state service, seeding the state row
// in demo mode if absent.
func NewService(gormDB *gorm.DB) (*Service, error) {
	s := &Service{db: gormDB}
	var st State
	if err := gormDB.FirstOrCreate(&st, State{Mode: ModeDemo}).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) state() (*State, error) {
	var st State
	if err := s.db.First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// Mode returns the current trading mode.
func (s *Service) Mode() (string, error) {
	st, err := s.state()
	if err != nil {
		return "", err
	}
	return st.Mode, nil
}

// SetMode switches between live and demo. Pausing happens only through
// Pause.
func (s *Service) SetMode(mode string) error {
	if mode != ModeLive && mode != ModeDemo {
		return ErrInvalidMode
	}
	st, err := s.state()
	if err != nil {
		return err
	}
	st.Mode = mode
	return s.db.Save(st).Error
}

// Pause flips the system to paused and records why. Returns false if
// already paused.
func (s *Service) Pause(info PausedInfo) (bool, error) {
	st, err := s.state()
	if err != nil {
		return false, err
	}
	if st.Mode == ModePaused {
		return false, nil
	}
	st.Mode = ModePaused
	if err := s.db.Save(st).Error; err != nil {
		return false, err
	}
	if info.PausedAt.IsZero() {
		info.PausedAt = time.Now()
	}
	// replace any stale pause record
	if err := s.db.Where("1 = 1").Delete(&PausedInfo{}).Error; err != nil {
		return false, err
	}
	return true, s.db.Create(&info).Error
}

// Resume returns the system to live mode and clears the pause record
// and force-resume flag.
func (s *Service) Resume() error {
	st, err := s.state()
	if err != nil {
		return err
	}
	st.Mode = ModeLive
	st.ForceResume = false
	if err := s.db.Save(st).Error; err != nil {
		return err
	}
	return s.db.Where("1 = 1").Delete(&PausedInfo{}).Error
}

// PausedInfo returns the current pause record, or nil when not paused.
func (s *Service) PausedInfo() (*PausedInfo, error) {
	var info PausedInfo
	if err := s.db.Order("created_at desc").First(&info).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

// RequestForceResume sets the admin flag the guard consumes on its
// next cycle.
func (s *Service) RequestForceResume() error {
	st, err := s.state()
	if err != nil {
		return err
	}
	st.ForceResume = true
	return s.db.Save(st).Error
}

// ForceResumeRequested reports the admin flag.
func (s *Service) ForceResumeRequested() (bool, error) {
	st, err := s.state()
	if err != nil {
		return false, err
	}
	return st.ForceResume, nil
}

// Overrides returns the stored guard overrides, or nil when none are
// set.
func (s *Service) Overrides() (*GuardOverrides, error) {
	var o GuardOverrides
	if err := s.db.First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}
