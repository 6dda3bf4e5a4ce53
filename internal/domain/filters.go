package domain

import "strings"

const (
	yearPrefix       = "Ano da Prova_"
	universityPrefix = "Universidade_"
	residencyPrefix  = "Residencia_"
)

// HasFilters reports whether any selection filter is set.
func (p StartParams) HasFilters() bool {
	return len(p.FilterIDs) > 0 || len(p.SubFilterIDs) > 0 || len(p.InstitutionIDs) > 0
}

// Matches applies the selection rules to q. Ids within a group are ORed and
// groups are ANDed; exam years form their own group apart from other sub
// filters. Institutions match any sub filter containing the institution id.
func (p StartParams) Matches(q Question) bool {
	if len(p.FilterIDs) > 0 && !anyIn(p.FilterIDs, q.FilterIDs) {
		return false
	}
	years, others := SplitSubFilters(p.SubFilterIDs)
	if len(others) > 0 && !anyIn(others, q.SubFilterIDs) {
		return false
	}
	if len(years) > 0 && !anyIn(years, q.SubFilterIDs) {
		return false
	}
	if len(p.InstitutionIDs) > 0 {
		found := false
		for _, inst := range p.InstitutionIDs {
			for _, sf := range q.SubFilterIDs {
				if strings.Contains(sf, inst) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SplitSubFilters separates exam-year ids from the other sub filter ids.
func SplitSubFilters(ids []string) (years, others []string) {
	for _, id := range ids {
		if strings.HasPrefix(id, yearPrefix) {
			years = append(years, id)
		} else {
			others = append(others, id)
		}
	}
	return years, others
}

// Institution extracts the institution name from sub filter ids shaped like
// "Universidade_SP_USP"; the last segment is the name.
func Institution(subFilterIDs []string) string {
	for _, id := range subFilterIDs {
		if strings.HasPrefix(id, universityPrefix) || strings.HasPrefix(id, residencyPrefix) {
			parts := strings.Split(id, "_")
			return parts[len(parts)-1]
		}
	}
	return ""
}

// Year extracts the exam year from "Ano da Prova_2024" or "Ano da Prova_2024_2024.1".
func Year(subFilterIDs []string) string {
	for _, id := range subFilterIDs {
		if strings.HasPrefix(id, yearPrefix) {
			parts := strings.Split(id, "_")
			if len(parts) > 1 {
				return parts[1]
			}
		}
	}
	return ""
}

func anyIn(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
