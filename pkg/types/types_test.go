package types

import "testing"

func TestUidUri_Encoding(t *testing.T) {
	tests := []struct {
		userId int32
		appId  int32
	}{
		{0, 10001},
		{0, 0},
		{10, 10250},
		{150, 99999},
	}
	for _, tt := range tests {
		uid := UidUri{Uid: UidFromUserIdAppId(tt.userId, tt.appId)}
		if uid.UserId() != tt.userId {
			t.Errorf("UserId() = %d, want %d", uid.UserId(), tt.userId)
		}
		if uid.AppId() != tt.appId {
			t.Errorf("AppId() = %d, want %d", uid.AppId(), tt.appId)
		}
	}
}

func TestAccessUri_String(t *testing.T) {
	tests := []struct {
		uri  AccessUri
		want string
	}{
		{UidUri{Uid: 1010001}, "uid:1010001"},
		{PermissionUri{PermissionName: "android.permission.CAMERA"}, "permission:android.permission.CAMERA"},
		{AppOpUri{OpName: "COARSE_LOCATION"}, "app-op:COARSE_LOCATION"},
		{PackageUri{PackageName: "com.example.app", UserId: 10}, "package:com.example.app/10"},
	}
	for _, tt := range tests {
		if got := tt.uri.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAccessUri_Comparable(t *testing.T) {
	// URIs are map keys; equal scheme and fields mean equal keys.
	seen := map[AccessUri]bool{}
	seen[UidUri{Uid: 10001}] = true
	seen[PackageUri{PackageName: "com.example.app", UserId: 0}] = true

	if !seen[UidUri{Uid: 10001}] {
		t.Error("equal uid URIs did not collide as map keys")
	}
	if seen[PackageUri{PackageName: "com.example.app", UserId: 10}] {
		t.Error("distinct user ids collided as map keys")
	}
}

func TestDecision_String(t *testing.T) {
	if DecisionDefault.String() != "default" || DecisionDenied.String() != "denied" || DecisionGranted.String() != "granted" {
		t.Error("unexpected decision names")
	}
	if Decision(42).String() != "decision(42)" {
		t.Errorf("unexpected unknown decision name: %s", Decision(42).String())
	}
}
