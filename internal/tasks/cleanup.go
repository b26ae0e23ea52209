package tasks

import (
	"log"
	"time"

	"github.com/Patsimim/GlobalChat/internal/chat"
	"github.com/robfig/cron/v3"
)

// PendingSweeper periodically fails sends whose request neither succeeded nor
// failed observably, so the composer text is not lost when a response simply
// never comes back.
type PendingSweeper struct {
	coord    *chat.Coordinator
	deadline time.Duration
	cron     *cron.Cron
}

func NewPendingSweeper(coord *chat.Coordinator, deadline time.Duration) *PendingSweeper {
	return &PendingSweeper{
		coord:    coord,
		deadline: deadline,
	}
}

func (s *PendingSweeper) Start() {
	c := cron.New()

	_, err := c.AddFunc("@every 15s", func() {
		s.coord.ExpirePending(time.Now().Add(-s.deadline))
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling pending sweep: %v", err)
		return
	}

	c.Start()
	s.cron = c
}

func (s *PendingSweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
