package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoleTag(t *testing.T) {
	tests := []struct {
		in      string
		want    RoleTag
		wantErr bool
	}{
		{in: "ceo", want: RoleCEO},
		{in: "CEO", want: RoleCEO},
		{in: "Branch Manager", want: RoleBranchManager},
		{in: "marketing_head", want: RoleMarketingHead},
		{in: " marketing-associate ", want: RoleMarketingAssociate},
		{in: "applicant", want: RoleApplicant},
		{in: "intern", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRoleTag(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleOrder(t *testing.T) {
	roles := AllRoles()
	require.Len(t, roles, 7)
	assert.Equal(t, RoleCEO, roles[0])
	assert.Equal(t, RoleApplicant, roles[len(roles)-1])

	for i := 0; i < len(roles)-1; i++ {
		assert.True(t, roles[i].Outranks(roles[i+1]), "%s should outrank %s", roles[i], roles[i+1])
		assert.False(t, roles[i+1].Outranks(roles[i]))
	}

	assert.Equal(t, -1, RoleTag("intern").Rank())
	assert.True(t, RoleApplicant.Outranks("intern"))
	assert.False(t, RoleTag("intern").AtLeast(RoleApplicant))
	assert.True(t, RoleBranchManager.AtLeast(RoleMarketingHead))
	assert.True(t, RoleMarketingHead.AtLeast(RoleMarketingHead))
	assert.False(t, RoleMarketingSupervisor.AtLeast(RoleMarketingHead))
}

func TestPrincipalValidate(t *testing.T) {
	p := &Principal{ID: "u-1", Role: RoleBranchManager, LocationID: "loc-1"}
	require.NoError(t, p.Validate())
	assert.True(t, p.HasLocation())
	assert.False(t, p.HasDepartment())

	err := (&Principal{Role: RoleCEO}).Validate()
	assert.ErrorIs(t, err, ErrInvalidPrincipal)

	err = (&Principal{ID: "u-2", Role: "intern"}).Validate()
	assert.ErrorIs(t, err, ErrInvalidPrincipal)
}

func TestPrincipalCloneIsIndependent(t *testing.T) {
	p := &Principal{ID: "u-1", Role: RoleCEO}
	c := p.Clone()
	c.Role = RoleApplicant
	assert.Equal(t, RoleCEO, p.Role)

	var nilPrincipal *Principal
	assert.Nil(t, nilPrincipal.Clone())
}

type attrRecord struct {
	ResourceQuery
	attrs map[string]interface{}
}

func (r attrRecord) Attributes() map[string]interface{} { return r.attrs }

func TestRecordToMap(t *testing.T) {
	q := ResourceQuery{ResourceType: ResourceCandidate, LocationID: "loc-1", OwnerID: "u-1"}
	m := RecordToMap(q)
	assert.Equal(t, "loc-1", m["locationId"])
	assert.Equal(t, "", m["departmentId"])
	assert.Equal(t, "u-1", m["ownerId"])

	r := attrRecord{
		ResourceQuery: q,
		attrs:         map[string]interface{}{"status": "shortlisted", "locationId": "spoofed"},
	}
	m = RecordToMap(r)
	assert.Equal(t, "shortlisted", m["status"])
	assert.Equal(t, "loc-1", m["locationId"], "scope attributes cannot be overridden")
}
