package sqladapter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoUsers = "CREATE user:tobie SET name = 'Tobie'; CREATE user:jaime SET name = 'Jaime';"

func TestFromText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "indented block",
			in: `
        CREATE user:tobie SET name = 'Tobie';
        CREATE user:jaime SET name = 'Jaime';
        `,
			want: twoUsers,
		},
		{
			name: "statement spread over lines",
			in: `


                CREATE user:tobie SET name = 'Tobie';

                CREATE 
                user:jaime 
                SET name = 'Jaime';


                `,
			want: twoUsers,
		},
		{
			name: "missing final semicolon",
			in:   "CREATE user:tobie SET name = 'Tobie'; CREATE user:jaime SET name = 'Jaime'",
			want: twoUsers,
		},
		{
			name: "quoted semicolon and spaces survive",
			in:   "CREATE note:1 SET body = 'a;  b';\n\nSELECT * FROM note",
			want: "CREATE note:1 SET body = 'a;  b'; SELECT * FROM note;",
		},
		{
			name: "comment markers inside strings survive",
			in:   `CREATE link:1 SET url = "http://x/#top", tag = '--';`,
			want: `CREATE link:1 SET url = "http://x/#top", tag = '--';`,
		},
		{
			name: "escaped quote",
			in:   `CREATE q:1 SET s = 'it\'s; fine';`,
			want: `CREATE q:1 SET s = 'it\'s; fine';`,
		},
		{
			name: "comments removed",
			in:   "-- header\nSELECT * FROM a; // note\n/* block; with semicolon */ SELECT * FROM b # tail",
			want: "SELECT * FROM a; SELECT * FROM b;",
		},
		{
			name: "only blanks",
			in:   " ;\n ; ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromText(tt.in))
		})
	}
}

func TestFromList(t *testing.T) {
	got := FromList([]string{
		"CREATE user:tobie SET name = 'Tobie';",
		"",
		"CREATE user:jaime SET name = 'Jaime'",
	})
	assert.Equal(t, twoUsers, got)
}

func TestFromFile(t *testing.T) {
	got, err := FromFile(filepath.Join("testdata", "users.sql"))
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE user:tobie SET name = 'Tobie'; "+
			"CREATE user:jaime SET name = 'Jaime'; "+
			"CREATE user:three SET name = 'Three';",
		got)

	_, err = FromFile(filepath.Join("testdata", "missing.sql"))
	assert.Error(t, err)
}

func TestNormalFormIsStable(t *testing.T) {
	once := FromText("SELECT *\n\tFROM user ;; DELETE user")
	assert.Equal(t, "SELECT * FROM user; DELETE user;", once)
	assert.Equal(t, once, FromText(once))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"SELECT 1", "SELECT 'x;y'"}, Split("SELECT 1; SELECT 'x;y';"))
	assert.Empty(t, Split(""))
}
