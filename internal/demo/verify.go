package demo

// VerificationQuery is a hand-written query with a known answer over the demo
// dataset, used to check a seeded database and to compare agent answers.
type VerificationQuery struct {
	Name        string
	Description string
	SQL         string
}

var VerificationQueries = []VerificationQuery{
	{
		Name:        "avg_python_rating",
		Description: "Average rating for Python skill",
		SQL: `SELECT AVG(rating) AS avg_rating
FROM userskillandratings
WHERE skill = 'Python'`,
	},
	{
		Name:        "it_users",
		Description: "Users in IT department",
		SQL: `SELECT u.name
FROM usermaster u
JOIN department d ON u.department_id = d.id
WHERE d.name = 'IT'
ORDER BY u.name`,
	},
	{
		Name:        "skills_per_user",
		Description: "Number of skills per user",
		SQL: `SELECT u.name, COUNT(us.skill) AS num_skills
FROM userskillandratings us
JOIN usermaster u ON us.user_id = u.id
GROUP BY u.name
ORDER BY num_skills DESC, u.name`,
	},
	{
		Name:        "users_and_skills",
		Description: "All users and their skills",
		SQL: `SELECT u.name, us.skill, us.rating
FROM usermaster u
LEFT JOIN userskillandratings us ON u.id = us.user_id
ORDER BY u.name, us.skill`,
	},
}

func FindVerificationQuery(name string) (VerificationQuery, bool) {
	for _, query := range VerificationQueries {
		if query.Name == name {
			return query, true
		}
	}
	return VerificationQuery{}, false
}
