package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	referralsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_processed_total",
		Help: "Referral attributions by result",
	}, []string{"result"})

	rewardsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_rewards_created_total",
		Help: "Rewards created, labeled by reward type and tier",
	}, []string{"type", "tier"})

	rewardsPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_rewards_paid_total",
		Help: "Rewards credited to accounts, labeled by currency",
	}, []string{"currency"})

	codeGenerationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "referral_code_generation_attempts_total",
		Help: "Candidate referral codes drawn, including collisions",
	})
)
