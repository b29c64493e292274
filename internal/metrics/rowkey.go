package metrics

import (
	"fmt"

	"github.com/yishak-cs/meal-metrics/internal/models"
)

// RowKey returns the deterministic session identifier of a row
func RowKey(category models.Category, mealTime string, row models.Row) string {
	switch category {
	case models.CategoryNationality:
		return fmt.Sprintf("%s_%s_%s", row.NationalityCode, row.DayOfWeek, mealTime)
	case models.CategoryAge:
		return fmt.Sprintf("%s_%s", row.AgeGroup, mealTime)
	case models.CategoryDestination:
		return fmt.Sprintf("%s_%s", row.DestinationRegion, mealTime)
	case models.CategoryMealTime:
		return mealTime
	}
	return ""
}

// RowIdentifier is the label used for a row in validation messages
func RowIdentifier(category models.Category, mealTime string, row models.Row) string {
	switch category {
	case models.CategoryNationality:
		return fmt.Sprintf("%s (%s) - %s", row.NationalityCode, row.DayOfWeek, mealTime)
	case models.CategoryAge:
		return fmt.Sprintf("%s - %s", row.AgeGroup, mealTime)
	case models.CategoryDestination:
		name := row.AirportCode
		if name == "" {
			name = row.DestinationRegion
		}
		return fmt.Sprintf("%s - %s", name, mealTime)
	case models.CategoryMealTime:
		return mealTime
	}
	return mealTime
}

// RowDetails returns the distinguishing fields of a row
func RowDetails(category models.Category, row models.Row) map[string]string {
	details := map[string]string{"meal_time": row.MealTime}
	switch category {
	case models.CategoryNationality:
		details["nationality_code"] = row.NationalityCode
		details["day_of_week"] = row.DayOfWeek
	case models.CategoryAge:
		details["age_group"] = row.AgeGroup
	case models.CategoryDestination:
		details["destination_region"] = row.DestinationRegion
		if row.AirportCode != "" {
			details["airport_code"] = row.AirportCode
		}
	}
	return details
}
