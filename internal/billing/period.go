package billing

import (
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Фиксированные длины расчетных периодов. Периоды намеренно не привязаны
// к календарю: "месяц" всегда 28 дней, чтобы списания были детерминированы.
const (
	hourlyPeriod    = time.Hour
	monthlyPeriod   = 28 * 24 * time.Hour
	quarterlyPeriod = 84 * 24 * time.Hour
	annualPeriod    = 336 * 24 * time.Hour
)

// NextEnd вычисляет момент окончания следующего расчетного периода от базового
// момента. Единственный источник правды для расчета сроков: используется и при
// первичном создании подписки, и при каждом продлении.
func NextEnd(cycle domain.BillingCycle, base time.Time) (time.Time, error) {
	switch cycle {
	case domain.BillingCycleHourly:
		return base.Add(hourlyPeriod), nil
	case domain.BillingCycleMonthly:
		return base.Add(monthlyPeriod), nil
	case domain.BillingCycleQuarterly:
		return base.Add(quarterlyPeriod), nil
	case domain.BillingCycleAnnually:
		return base.Add(annualPeriod), nil
	default:
		return time.Time{}, domain.NewUnsupportedCycleError(cycle)
	}
}

// RenewalBase возвращает базовый момент для продления: продление заранее
// никогда не укорачивает оплаченное время, продление с опозданием начинает
// новый период от "сейчас", не накапливая долг.
func RenewalBase(currentEnd, now time.Time) time.Time {
	if currentEnd.After(now) {
		return currentEnd
	}
	return now
}

// FirstReminderThreshold возвращает порог первого напоминания для периода
func FirstReminderThreshold(cycle domain.BillingCycle) time.Duration {
	if cycle == domain.BillingCycleHourly {
		return 15 * time.Minute
	}
	return 7 * 24 * time.Hour
}

// FinalReminderThreshold возвращает порог финального напоминания; для часового
// периода финальное напоминание не отправляется
func FinalReminderThreshold(cycle domain.BillingCycle) (time.Duration, bool) {
	if cycle == domain.BillingCycleHourly {
		return 0, false
	}
	return 24 * time.Hour, true
}
