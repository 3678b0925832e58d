// Package rules contains the pure calculation logic for vault mechanics.
// This package is PURE and must NOT import any infrastructure packages.
//
// Every tunable number lives in Balance. Systems receive it explicitly and
// never read package-level constants, so a deployment can rebalance the game
// by shipping a JSON override file.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration is a time.Duration that reads "90s"/"2h" style strings from JSON.
type Duration time.Duration

// D converts back to time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Balance is the full set of simulation constants.
type Balance struct {
	BaseProductionRate  float64         `json:"base_production_rate"`
	TierMultiplier      map[int]float64 `json:"tier_multiplier"`
	RoomCapacityPerSize int             `json:"room_capacity_per_size"`

	FoodPerDwellerPerSecond  float64 `json:"food_per_dweller_per_second"`
	WaterPerDwellerPerSecond float64 `json:"water_per_dweller_per_second"`
	PowerPerRoomPerSecond    float64 `json:"power_per_room_per_second"`

	Happiness   HappinessBalance   `json:"happiness"`
	Exploration ExplorationBalance `json:"exploration"`
	Incidents   IncidentBalance    `json:"incidents"`
	Training    TrainingBalance    `json:"training"`
	Family      FamilyBalance      `json:"family"`
	Quests      QuestBalance       `json:"quests"`
	Leveling    LevelingBalance    `json:"leveling"`
}

type HappinessBalance struct {
	MaxModifier       float64  `json:"max_modifier"`
	FullEffectWindow  Duration `json:"full_effect_window"`
	MaxElapsedFactor  float64  `json:"max_elapsed_factor"`
	RoomMatch         float64  `json:"room_match"`
	HighStatThreshold int      `json:"high_stat_threshold"`
	LowHealth         float64  `json:"low_health"`
	LowHealthRatio    float64  `json:"low_health_ratio"`
	Scarcity          float64  `json:"scarcity"`
	ScarcityRatio     float64  `json:"scarcity_ratio"`
	Partnered         float64  `json:"partnered"`
	IncidentExposure  float64  `json:"incident_exposure"`
	Idle              float64  `json:"idle"`
	IdleAfter         Duration `json:"idle_after"`
}

type ExplorationBalance struct {
	RollInterval        Duration  `json:"roll_interval"`
	MaxDuration         Duration  `json:"max_duration"`
	LootChance          float64   `json:"loot_chance"`
	LuckLootBonus       float64   `json:"luck_loot_bonus"`
	RarityWeights       []float64 `json:"rarity_weights"` // common..legendary
	LuckRarityBonus     float64   `json:"luck_rarity_bonus"`
	CapsPerRollMax      int       `json:"caps_per_roll_max"`
	DamagePerRoll       float64   `json:"damage_per_roll"`
	RadiationPerRoll    float64   `json:"radiation_per_roll"`
	EnduranceMitigation float64   `json:"endurance_mitigation"`
	StimpakThreshold    float64   `json:"stimpak_threshold"`
	StimpakHeal         float64   `json:"stimpak_heal"`
	RadAwayThreshold    float64   `json:"radaway_threshold"`
	RadAwayAmount       float64   `json:"radaway_amount"`
	XPPerRoll           int       `json:"xp_per_roll"`
}

type IncidentBalance struct {
	MaxActive           int      `json:"max_active"`
	MinPopulation       int      `json:"min_population"`
	BaseChancePerMinute float64  `json:"base_chance_per_minute"`
	PopulationScale     float64  `json:"population_scale"`
	UnhappyBoost        float64  `json:"unhappy_boost"`
	MaxSpawnProbability float64  `json:"max_spawn_probability"`
	MaxSeverity         int      `json:"max_severity"`
	RaiderMinPopulation int      `json:"raider_min_population"`
	SeverityPower       float64  `json:"severity_power"`
	LevelPowerBonus     float64  `json:"level_power_bonus"`
	GuardBonus          float64  `json:"guard_bonus"`
	ResolveInterval     Duration `json:"resolve_interval"`
	MaxResolveRolls     int      `json:"max_resolve_rolls"`
	DamagePerSeverity   float64  `json:"damage_per_severity"`
	ResourceLoss        float64  `json:"resource_loss"`
	GracePeriod         Duration `json:"grace_period"`
	CapsPerSeverity     int      `json:"caps_per_severity"`
	XPPerSeverity       int      `json:"xp_per_severity"`
}

type TrainingBalance struct {
	BaseDuration  Duration        `json:"base_duration"`
	PerPoint      float64         `json:"per_point"`
	TierSpeed     map[int]float64 `json:"tier_speed"`
	Amount        int             `json:"amount"`
	StatCeiling   int             `json:"stat_ceiling"`
	MaxChainSteps int             `json:"max_chain_steps"`
}

type FamilyBalance struct {
	AffinityPerMinute float64  `json:"affinity_per_minute"`
	CharismaFactor    float64  `json:"charisma_factor"`
	AffinityThreshold float64  `json:"affinity_threshold"`
	ConceiveChance    float64  `json:"conceive_chance_per_minute"`
	PregnancyDuration Duration `json:"pregnancy_duration"`
	ChildhoodDuration Duration `json:"childhood_duration"`
	ChildHappiness    float64  `json:"child_happiness"`
}

type QuestBalance struct {
	PowerPerLevel    float64 `json:"power_per_level"`
	PowerPerStat     float64 `json:"power_per_stat"`
	DifficultyPower  float64 `json:"difficulty_power"`
	MinSuccessChance float64 `json:"min_success_chance"`
	MaxSuccessChance float64 `json:"max_success_chance"`
	RecruitHappiness float64 `json:"recruit_happiness"`
	RecruitMaxHealth float64 `json:"recruit_max_health"`
}

type LevelingBalance struct {
	XPPerLevel     int     `json:"xp_per_level"`
	HealthPerLevel float64 `json:"health_per_level"`
	MaxLevel       int     `json:"max_level"`
}

// DefaultBalance returns the shipped tuning.
func DefaultBalance() *Balance {
	return &Balance{
		BaseProductionRate:  0.1,
		TierMultiplier:      map[int]float64{1: 1.0, 2: 1.5, 3: 2.0},
		RoomCapacityPerSize: 2,

		FoodPerDwellerPerSecond:  0.002,
		WaterPerDwellerPerSecond: 0.002,
		PowerPerRoomPerSecond:    0.001,

		Happiness: HappinessBalance{
			MaxModifier:       10,
			FullEffectWindow:  Duration(time.Minute),
			MaxElapsedFactor:  30,
			RoomMatch:         3,
			HighStatThreshold: 5,
			LowHealth:         -4,
			LowHealthRatio:    0.3,
			Scarcity:          -5,
			ScarcityRatio:     0.1,
			Partnered:         2,
			IncidentExposure:  -6,
			Idle:              -1,
			IdleAfter:         Duration(30 * time.Minute),
		},
		Exploration: ExplorationBalance{
			RollInterval:        Duration(time.Minute),
			MaxDuration:         Duration(24 * time.Hour),
			LootChance:          0.12,
			LuckLootBonus:       0.01,
			RarityWeights:       []float64{60, 25, 10, 4, 1},
			LuckRarityBonus:     0.05,
			CapsPerRollMax:      6,
			DamagePerRoll:       1.5,
			RadiationPerRoll:    0.4,
			EnduranceMitigation: 0.06,
			StimpakThreshold:    0.35,
			StimpakHeal:         40,
			RadAwayThreshold:    0.25,
			RadAwayAmount:       30,
			XPPerRoll:           2,
		},
		Incidents: IncidentBalance{
			MaxActive:           3,
			MinPopulation:       5,
			BaseChancePerMinute: 0.002,
			PopulationScale:     10,
			UnhappyBoost:        1.0,
			MaxSpawnProbability: 0.5,
			MaxSeverity:         5,
			RaiderMinPopulation: 12,
			SeverityPower:       12,
			LevelPowerBonus:     0.05,
			GuardBonus:          1.5,
			ResolveInterval:     Duration(20 * time.Second),
			MaxResolveRolls:     30,
			DamagePerSeverity:   2,
			ResourceLoss:        1.5,
			GracePeriod:         Duration(2 * time.Minute),
			CapsPerSeverity:     25,
			XPPerSeverity:       15,
		},
		Training: TrainingBalance{
			BaseDuration:  Duration(30 * time.Minute),
			PerPoint:      0.25,
			TierSpeed:     map[int]float64{1: 1.0, 2: 1.25, 3: 1.5},
			Amount:        1,
			StatCeiling:   10,
			MaxChainSteps: 10,
		},
		Family: FamilyBalance{
			AffinityPerMinute: 1,
			CharismaFactor:    0.2,
			AffinityThreshold: 100,
			ConceiveChance:    0.01,
			PregnancyDuration: Duration(3 * time.Hour),
			ChildhoodDuration: Duration(3 * time.Hour),
			ChildHappiness:    75,
		},
		Quests: QuestBalance{
			PowerPerLevel:    1,
			PowerPerStat:     0.5,
			DifficultyPower:  20,
			MinSuccessChance: 0.05,
			MaxSuccessChance: 0.95,
			RecruitHappiness: 60,
			RecruitMaxHealth: 100,
		},
		Leveling: LevelingBalance{
			XPPerLevel:     100,
			HealthPerLevel: 5,
			MaxLevel:       50,
		},
	}
}

// LoadBalance returns DefaultBalance overlaid with the JSON file at path.
// An empty path yields the defaults.
func LoadBalance(path string) (*Balance, error) {
	b := DefaultBalance()
	if path == "" {
		return b, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read balance file: %w", err)
	}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("parse balance file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate rejects tunings that would break the clamping invariants.
func (b *Balance) Validate() error {
	switch {
	case b.BaseProductionRate < 0:
		return fmt.Errorf("balance: base_production_rate must be >= 0")
	case b.RoomCapacityPerSize < 1:
		return fmt.Errorf("balance: room_capacity_per_size must be >= 1")
	case b.Happiness.FullEffectWindow <= 0:
		return fmt.Errorf("balance: happiness.full_effect_window must be > 0")
	case b.Happiness.MaxModifier < 0:
		return fmt.Errorf("balance: happiness.max_modifier must be >= 0")
	case b.Exploration.RollInterval <= 0:
		return fmt.Errorf("balance: exploration.roll_interval must be > 0")
	case len(b.Exploration.RarityWeights) != 5:
		return fmt.Errorf("balance: exploration.rarity_weights needs 5 entries")
	case b.Incidents.MaxActive < 0:
		return fmt.Errorf("balance: incidents.max_active must be >= 0")
	case b.Incidents.ResolveInterval <= 0:
		return fmt.Errorf("balance: incidents.resolve_interval must be > 0")
	case b.Training.BaseDuration <= 0:
		return fmt.Errorf("balance: training.base_duration must be > 0")
	case b.Leveling.XPPerLevel <= 0:
		return fmt.Errorf("balance: leveling.xp_per_level must be > 0")
	}
	for tier := 1; tier <= 3; tier++ {
		if _, ok := b.TierMultiplier[tier]; !ok {
			return fmt.Errorf("balance: tier_multiplier missing tier %d", tier)
		}
	}
	return nil
}
